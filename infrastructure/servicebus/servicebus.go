package servicebus

import (
	"context"
	"fmt"
	"strings"

	"crosspost/infrastructure/logger"

	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus/admin"
)

// NewServiceBus prefers a connection string and falls back to the default
// Azure credential chain against the namespace.
func NewServiceBus(ctx context.Context, namespace, connectionString string) (*azservicebus.Client, error) {
	if connectionString != "" {
		return azservicebus.NewClientFromConnectionString(connectionString, nil)
	}
	if namespace == "" {
		return nil, fmt.Errorf("service bus namespace or connection string required")
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		logger.GetLogger().WithField("error", err).Error("Error while creating azure credential.")
		return nil, err
	}
	return azservicebus.NewClient(fullyQualified(namespace), cred, nil)
}

// NewAdminClient builds the management client used to provision queues.
func NewAdminClient(namespace, connectionString string) (*admin.Client, error) {
	if connectionString != "" {
		return admin.NewClientFromConnectionString(connectionString, nil)
	}
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, err
	}
	return admin.NewClient(fullyQualified(namespace), cred, nil)
}

func fullyQualified(namespace string) string {
	if strings.Contains(namespace, ".") {
		return namespace
	}
	return namespace + ".servicebus.windows.net"
}
