package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDestinationKey(t *testing.T) {
	tests := []struct {
		raw     string
		want    DestinationKey
		wantErr bool
	}{
		{raw: "facebook:123456", want: "facebook:123456"},
		{raw: "  Instagram:17841400000 ", want: "instagram:17841400000"},
		{raw: "youtube:UC_x-Y9", want: "youtube:UC_x-Y9"},
		{raw: "facebook", wantErr: true},
		{raw: ":123", wantErr: true},
		{raw: "facebook:", wantErr: true},
		{raw: "facebook:12.3", wantErr: true},
		{raw: "facebook:$where", wantErr: true},
		{raw: "face book:1", wantErr: true},
		{raw: "", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseDestinationKey(tt.raw)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, IsValidation(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDestinationKey_Parts(t *testing.T) {
	k := DestinationKey("instagram:1784")
	assert.Equal(t, "instagram", k.Platform())
	assert.Equal(t, "1784", k.AccountID())
	assert.Equal(t, "instagram:1784", k.String())
}
