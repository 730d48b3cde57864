package configuration

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"crosspost/domain/model"
	"crosspost/infrastructure/logger"

	"github.com/spf13/viper"
)

type Config struct {
	App         App         `json:"app"`
	Database    Database    `json:"database"`
	Records     Records     `json:"records"`
	Queue       Queue       `json:"queue"`
	Pubsub      Pubsub      `json:"pubsub"`
	ServiceBus  ServiceBus  `json:"serviceBus"`
	RedisClient RedisClient `json:"redisClient"`
	Worker      Worker      `json:"worker"`
	Janitor     Janitor     `json:"janitor"`
	Logger      Logger      `json:"logger"`
	Graph       Graph       `json:"graph"`
	YouTube     YouTube     `json:"youtube"`
	OAuth       OAuth       `json:"oauth"`
}

type App struct {
	Port        int    `json:"port"`
	Mode        string `json:"mode"` // api | worker | all | token
	SecretKey   string `json:"secretKey"`
	TLSEnabled  bool   `json:"tlsEnabled"`
	TLSCertFile string `json:"tlsCertFile"`
	TLSKeyFile  string `json:"tlsKeyFile"`
	// AllowedOrigins enables CORS for browser clients when non-empty.
	AllowedOrigins []string `json:"allowedOrigins"`
}

type Database struct {
	Vendor string `json:"vendor"` // postgres | mssql; backs the oauth token table
	Psql   Db     `json:"psql"`
	MySql  Db     `json:"mysql"`
	Mongo  Db     `json:"mongo"`
	Mssql  Db     `json:"mssql"`
}

type Db struct {
	Name     string `json:"name"`
	Host     string `json:"host"`
	Port     string `json:"port"`
	User     string `json:"user"`
	Password string `json:"password"`
	URI      string `json:"uri"`
}

// Records configures the upload-request record store.
type Records struct {
	Backend        string `json:"backend"` // mongo | memory
	Collection     string `json:"collection"`
	RetentionHours int    `json:"retentionHours"`
}

// Queue configures the work queue shared by dispatcher and workers.
type Queue struct {
	Backend                  string `json:"backend"` // servicebus | pubsub | redis | memory
	Name                     string `json:"name"`
	VisibilityTimeoutSeconds int    `json:"visibilityTimeoutSeconds"`
	MaxReceiveCount          int    `json:"maxReceiveCount"`
}

type Pubsub struct {
	ProjectID                string `json:"projectID"`
	TopicID                  string `json:"topicID"`
	SubscriptionID           string `json:"subscriptionID"`
	DeadLetterSubscriptionID string `json:"deadLetterSubscriptionID"`
	// Redelivery backoff after a nack; Pub/Sub accepts 0 to 600 seconds.
	MinBackoffSeconds int `json:"minBackoffSeconds"`
	MaxBackoffSeconds int `json:"maxBackoffSeconds"`
}

type ServiceBus struct {
	Namespace        string `json:"namespace"`
	ConnectionString string `json:"connectionString"`
	EnsureQueue      bool   `json:"ensureQueue"`
}

type RedisClient struct {
	Host         string `json:"host"`
	Port         string `json:"port"`
	Password     string `json:"password"`
	DatabaseName string `json:"databaseName"`
	Username     string `json:"username"`
}

type Worker struct {
	Concurrency           int `json:"concurrency"`
	PublishTimeoutSeconds int `json:"publishTimeoutSeconds"`
	PollWaitSeconds       int `json:"pollWaitSeconds"`
}

// Janitor holds cron specs for the periodic sweeps.
type Janitor struct {
	PurgeSchedule      string `json:"purgeSchedule"`
	DeadLetterSchedule string `json:"deadLetterSchedule"`
	DeadLetterBatch    int    `json:"deadLetterBatch"`
}

type Logger struct {
	Format string `json:"format"`
}

// Graph configures the Facebook/Instagram Graph API clients.
type Graph struct {
	BaseURL       string `json:"baseURL"`
	APIVersion    string `json:"apiVersion"`
	RatePerSecond int    `json:"ratePerSecond"`
}

type YouTube struct {
	PrivacyStatus string `json:"privacyStatus"`
	CategoryID    string `json:"categoryId"`
}

// OAuth holds third-party platform OAuth client credentials
type OAuth struct {
	Facebook OAuthClient `json:"facebook"`
	YouTube  OAuthClient `json:"youtube"`
}

type OAuthClient struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
	RedirectURI  string `json:"redirectURI"`
}

var C Config

func init() {
	Reload()
}

// Reload rebuilds C from the config file and the current environment, e.g.
// after LoadEnvFromFile has populated it.
func Reload() {
	C = Config{}
	LoadConfig()
	initDatabase(&C)
	initApp(&C)
	initPipeline(&C)
}

func LoadConfig() {
	name := getConfig()
	viper.SetConfigName(name)
	viper.SetConfigType("json")
	viper.AddConfigPath(".")
	viper.AddConfigPath("../")
	viper.AddConfigPath("../../")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			logger.GetLogger().Warn("Config file not found")
		} else {
			logger.GetLogger().WithField("error", err).Error("Error reading config file")
		}
	}

	logger.GetLogger().WithField("config", name).Info("Config set up successfully")
	if err := viper.Unmarshal(&C); err != nil {
		logger.GetLogger().WithField("error", err).Error("Viper unable to decode into struct")
	}
}

func getConfig() string {
	name := "config"
	env := os.Getenv("ENV")
	if env != "" {
		name = fmt.Sprintf("%s-%s", name, env)
	}
	return name
}

func initDatabase(C *Config) {
	if v := os.Getenv("DB_VENDOR"); v != "" {
		C.Database.Vendor = v
	}
	if C.Database.Vendor == "" {
		C.Database.Vendor = "postgres"
	}
	if C.Database.Psql.Name == "" {
		C.Database.Psql.Name = os.Getenv("DB_NAME")
	}
	if C.Database.Psql.Host == "" {
		C.Database.Psql.Host = os.Getenv("DB_HOST")
	}
	if C.Database.Psql.User == "" {
		C.Database.Psql.User = os.Getenv("DB_USER")
	}
	if C.Database.Psql.Password == "" {
		C.Database.Psql.Password = os.Getenv("DB_PASSWORD")
	}
	if C.Database.Psql.Port == "" {
		C.Database.Psql.Port = getEnv("DB_PORT", "5432")
	}

	// MSSQL (Azure SQL in production)
	C.Database.Mssql.Name = getConfigValue(C.Database.Mssql.Name, "MSSQL_DB_NAME", "")
	C.Database.Mssql.Host = getConfigValue(C.Database.Mssql.Host, "MSSQL_HOST", "localhost")
	C.Database.Mssql.Port = getConfigValue(C.Database.Mssql.Port, "MSSQL_PORT", "1433")
	C.Database.Mssql.User = getConfigValue(C.Database.Mssql.User, "MSSQL_USER", "sa")
	C.Database.Mssql.Password = getConfigValue(C.Database.Mssql.Password, "MSSQL_PASSWORD", "")

	C.Database.MySql.URI = getConfigValue(C.Database.MySql.URI, "MYSQL_DSN", "")
	C.Database.Mongo.URI = getConfigValue(C.Database.Mongo.URI, "MONGO_URI", "")
	C.Database.Mongo.Name = getConfigValue(C.Database.Mongo.Name, "MONGO_DB_NAME", "crosspost")
}

func initApp(C *Config) {
	if v := os.Getenv("SECRET_KEY"); v != "" {
		C.App.SecretKey = v
	}
	// Port resolution order (env overrides config): APP_PORT -> PORT -> config -> default 10001
	if v := os.Getenv("APP_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	} else if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			C.App.Port = p
		}
	}
	if C.App.Port == 0 {
		C.App.Port = 10001
	}
	C.App.Mode = strings.ToLower(getConfigValue(C.App.Mode, "APP_MODE", "all"))
	if v := os.Getenv("TLS_ENABLED"); v != "" {
		switch v {
		case "1", "true", "TRUE", "True":
			C.App.TLSEnabled = true
		case "0", "false", "FALSE", "False":
			C.App.TLSEnabled = false
		}
	}
	if C.App.TLSCertFile == "" {
		C.App.TLSCertFile = os.Getenv("TLS_CERT_FILE")
	}
	if C.App.TLSKeyFile == "" {
		C.App.TLSKeyFile = os.Getenv("TLS_KEY_FILE")
	}
	if C.App.SecretKey == "" {
		logger.GetLogger().Warn("App.SecretKey not set; JWT authentication will fail. Provide SECRET_KEY via environment.")
	}
}

func initPipeline(C *Config) {
	C.Records.Backend = strings.ToLower(getConfigValue(C.Records.Backend, "RECORDS_BACKEND", "mongo"))
	if C.Records.Collection == "" {
		C.Records.Collection = "upload_requests"
	}
	if C.Records.RetentionHours <= 0 {
		C.Records.RetentionHours = 72
	}

	C.Queue.Backend = strings.ToLower(getConfigValue(C.Queue.Backend, "QUEUE_BACKEND", "servicebus"))
	C.Queue.Name = getConfigValue(C.Queue.Name, "QUEUE_NAME", "crosspost-work")
	if C.Queue.VisibilityTimeoutSeconds <= 0 {
		C.Queue.VisibilityTimeoutSeconds = 300
	}
	if C.Queue.MaxReceiveCount <= 0 {
		C.Queue.MaxReceiveCount = 10
	}

	C.ServiceBus.Namespace = getConfigValue(C.ServiceBus.Namespace, "SERVICEBUS_NAMESPACE", "")
	C.ServiceBus.ConnectionString = getConfigValue(C.ServiceBus.ConnectionString, "SERVICEBUS_CONNECTION_STRING", "")
	C.Pubsub.ProjectID = getConfigValue(C.Pubsub.ProjectID, "PUBSUB_PROJECT_ID", "")
	C.Pubsub.TopicID = getConfigValue(C.Pubsub.TopicID, "PUBSUB_TOPIC_ID", C.Queue.Name)
	C.Pubsub.SubscriptionID = getConfigValue(C.Pubsub.SubscriptionID, "PUBSUB_SUBSCRIPTION_ID", C.Queue.Name+"-workers")
	C.Pubsub.DeadLetterSubscriptionID = getConfigValue(C.Pubsub.DeadLetterSubscriptionID, "PUBSUB_DEAD_LETTER_SUBSCRIPTION_ID", C.Queue.Name+"-dead-letters")
	if C.Pubsub.MinBackoffSeconds <= 0 {
		C.Pubsub.MinBackoffSeconds = 10
	}
	if C.Pubsub.MaxBackoffSeconds <= 0 || C.Pubsub.MaxBackoffSeconds > 600 {
		C.Pubsub.MaxBackoffSeconds = 600
	}
	if C.Pubsub.MinBackoffSeconds > C.Pubsub.MaxBackoffSeconds {
		C.Pubsub.MinBackoffSeconds = C.Pubsub.MaxBackoffSeconds
	}
	C.RedisClient.Host = getConfigValue(C.RedisClient.Host, "REDIS_HOST", "localhost")
	C.RedisClient.Port = getConfigValue(C.RedisClient.Port, "REDIS_PORT", "6379")

	if C.Worker.Concurrency <= 0 {
		C.Worker.Concurrency = 4
	}
	if C.Worker.PublishTimeoutSeconds <= 0 {
		C.Worker.PublishTimeoutSeconds = 240
	}
	// A publish must settle before the queue may redeliver the item.
	if budget := model.PublishBudget(C.Queue.VisibilityTimeout()); C.Worker.PublishTimeout() > budget {
		logger.GetLogger().WithFields(map[string]interface{}{
			"publishTimeoutSeconds":    C.Worker.PublishTimeoutSeconds,
			"visibilityTimeoutSeconds": C.Queue.VisibilityTimeoutSeconds,
		}).Warn("Worker publish timeout does not fit the queue visibility window; capping it")
		C.Worker.PublishTimeoutSeconds = int(budget / time.Second)
	}
	if C.Worker.PollWaitSeconds <= 0 {
		C.Worker.PollWaitSeconds = 20
	}

	if C.Janitor.PurgeSchedule == "" {
		C.Janitor.PurgeSchedule = "@every 10m"
	}
	if C.Janitor.DeadLetterSchedule == "" {
		C.Janitor.DeadLetterSchedule = "@every 5m"
	}
	if C.Janitor.DeadLetterBatch <= 0 {
		C.Janitor.DeadLetterBatch = 50
	}

	if C.Graph.BaseURL == "" {
		C.Graph.BaseURL = "https://graph.facebook.com"
	}
	if C.Graph.APIVersion == "" {
		C.Graph.APIVersion = "v19.0"
	}
	if C.Graph.RatePerSecond <= 0 {
		C.Graph.RatePerSecond = 5
	}
	if C.YouTube.PrivacyStatus == "" {
		C.YouTube.PrivacyStatus = "public"
	}
	if C.YouTube.CategoryID == "" {
		C.YouTube.CategoryID = "22"
	}
	C.OAuth.YouTube.ClientID = getConfigValue(C.OAuth.YouTube.ClientID, "YOUTUBE_CLIENT_ID", "")
	C.OAuth.YouTube.ClientSecret = getConfigValue(C.OAuth.YouTube.ClientSecret, "YOUTUBE_CLIENT_SECRET", "")
	C.OAuth.YouTube.RedirectURI = getConfigValue(C.OAuth.YouTube.RedirectURI, "YOUTUBE_REDIRECT_URI", "")
	C.OAuth.Facebook.ClientID = getConfigValue(C.OAuth.Facebook.ClientID, "FACEBOOK_APP_ID", "")
	C.OAuth.Facebook.ClientSecret = getConfigValue(C.OAuth.Facebook.ClientSecret, "FACEBOOK_APP_SECRET", "")
	C.OAuth.Facebook.RedirectURI = getConfigValue(C.OAuth.Facebook.RedirectURI, "FACEBOOK_REDIRECT_URI", "")
	logger.SetOutputFormat(C.Logger.Format)
}

func (r Records) Retention() time.Duration { return time.Duration(r.RetentionHours) * time.Hour }

func (q Queue) VisibilityTimeout() time.Duration {
	return time.Duration(q.VisibilityTimeoutSeconds) * time.Second
}

// RetryBackoff returns the subscription's minimum and maximum redelivery delay.
func (p Pubsub) RetryBackoff() (time.Duration, time.Duration) {
	return time.Duration(p.MinBackoffSeconds) * time.Second, time.Duration(p.MaxBackoffSeconds) * time.Second
}

func (w Worker) PublishTimeout() time.Duration {
	return time.Duration(w.PublishTimeoutSeconds) * time.Second
}

func (w Worker) PollWait() time.Duration { return time.Duration(w.PollWaitSeconds) * time.Second }

func (r RedisClient) Addr() string { return r.Host + ":" + r.Port }

// DB parses DatabaseName as a logical database index; anything else means 0.
func (r RedisClient) DB() int {
	n, err := strconv.Atoi(r.DatabaseName)
	if err != nil || n < 0 {
		return 0
	}
	return n
}

// Configured reports whether the OAuth client has credentials.
func (o OAuthClient) Configured() bool { return o.ClientID != "" && o.ClientSecret != "" }

// getConfigValue prefers the environment, then a non-placeholder config value, then the default.
func getConfigValue(configValue, envKey, defaultValue string) string {
	if v := os.Getenv(envKey); v != "" {
		return v
	}
	if configValue != "" && !strings.HasPrefix(configValue, "YOUR_") {
		return configValue
	}
	return defaultValue
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
