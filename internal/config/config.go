package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

func Load() error {
	// optional .env for local runs
	_ = godotenv.Load()

	viper.SetDefault("API_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")

	// Postgres audit log; empty DSN disables it
	viper.SetDefault("DB_DSN", "")

	// MQTT push transport
	viper.SetDefault("MQTT_BROKER", "tcp://localhost:1883")
	viper.SetDefault("MQTT_CLIENT_ID", "meter-oracle-bridge")
	viper.SetDefault("MQTT_USERNAME", "")
	viper.SetDefault("MQTT_PASSWORD", "")
	viper.SetDefault("MQTT_QOS", 1)

	// Meters and key material
	viper.SetDefault("METER_CONFIG", "meter_config.json")
	viper.SetDefault("WALLET_PATH", "wallet.json")

	// Monitoring loop
	viper.SetDefault("POLL_INTERVAL", "300s")
	viper.SetDefault("POLL_TIMEOUT", "10s")
	viper.SetDefault("RECOVERY_DELAY", "10s")

	// Ledger oracle
	viper.SetDefault("ORACLE_URL", "")
	viper.SetDefault("ORACLE_CONTRACT", "")
	viper.SetDefault("ORACLE_API_KEY", "")
	viper.SetDefault("ORACLE_API_SECRET", "")
	viper.SetDefault("ORACLE_PROJECT_ID", "")
	viper.SetDefault("ORACLE_TIMEOUT", "30s")
	viper.SetDefault("SUBMIT_MAX_ATTEMPTS", 4)
	viper.SetDefault("SUBMIT_INITIAL_BACKOFF", "500ms")
	viper.SetDefault("SUBMIT_MAX_BACKOFF", "8s")

	// Push handoff queue
	viper.SetDefault("PUSH_QUEUE_SIZE", 256)
	viper.SetDefault("PUSH_WORKERS", 4)
	viper.SetDefault("PUSH_QUEUE_POLICY", "block")

	// AWS Configuration
	viper.SetDefault("AWS_REGION", "us-east-1")
	viper.SetDefault("AWS_S3_BUCKET", "energy-attestations")
	viper.SetDefault("AWS_SNS_TOPIC_ARN", "")
	viper.SetDefault("AWS_DYNAMODB_TABLE", "MeterSubmissions")
	viper.SetDefault("USE_CLOUD_SERVICES", "false")

	viper.AutomaticEnv()
	return Validate()
}

// Validate checks the values Load cannot default its way out of.
func Validate() error {
	durations := []string{"POLL_INTERVAL", "POLL_TIMEOUT", "RECOVERY_DELAY", "ORACLE_TIMEOUT", "SUBMIT_INITIAL_BACKOFF", "SUBMIT_MAX_BACKOFF"}
	for _, key := range durations {
		if viper.GetDuration(key) <= 0 {
			return fmt.Errorf("%s must be a positive duration, got %q", key, viper.GetString(key))
		}
	}
	for _, key := range []string{"SUBMIT_MAX_ATTEMPTS", "PUSH_QUEUE_SIZE", "PUSH_WORKERS"} {
		if viper.GetInt(key) <= 0 {
			return fmt.Errorf("%s must be > 0, got %q", key, viper.GetString(key))
		}
	}
	switch PushQueuePolicy() {
	case "block", "drop_oldest":
	default:
		return fmt.Errorf("PUSH_QUEUE_POLICY must be block or drop_oldest, got %q", PushQueuePolicy())
	}
	// checked before MQTTQoS narrows it to a byte
	if q := viper.GetInt("MQTT_QOS"); q < 0 || q > 2 {
		return fmt.Errorf("MQTT_QOS must be 0, 1 or 2, got %q", viper.GetString("MQTT_QOS"))
	}
	return nil
}

func APIAddr() string     { return viper.GetString("API_ADDR") }
func LogLevel() string    { return viper.GetString("LOG_LEVEL") }
func DatabaseDSN() string { return viper.GetString("DB_DSN") }

func MQTTBroker() string   { return viper.GetString("MQTT_BROKER") }
func MQTTClientID() string { return viper.GetString("MQTT_CLIENT_ID") }
func MQTTUsername() string { return viper.GetString("MQTT_USERNAME") }
func MQTTPassword() string { return viper.GetString("MQTT_PASSWORD") }
func MQTTQoS() byte        { return byte(viper.GetUint("MQTT_QOS")) }

func MeterConfigPath() string { return viper.GetString("METER_CONFIG") }
func WalletPath() string      { return viper.GetString("WALLET_PATH") }

func PollInterval() time.Duration  { return viper.GetDuration("POLL_INTERVAL") }
func PollTimeout() time.Duration   { return viper.GetDuration("POLL_TIMEOUT") }
func RecoveryDelay() time.Duration { return viper.GetDuration("RECOVERY_DELAY") }

func OracleURL() string                   { return viper.GetString("ORACLE_URL") }
func OracleContract() string              { return viper.GetString("ORACLE_CONTRACT") }
func OracleAPIKey() string                { return viper.GetString("ORACLE_API_KEY") }
func OracleAPISecret() string             { return viper.GetString("ORACLE_API_SECRET") }
func OracleProjectID() string             { return viper.GetString("ORACLE_PROJECT_ID") }
func OracleTimeout() time.Duration        { return viper.GetDuration("ORACLE_TIMEOUT") }
func SubmitMaxAttempts() uint             { return viper.GetUint("SUBMIT_MAX_ATTEMPTS") }
func SubmitInitialBackoff() time.Duration { return viper.GetDuration("SUBMIT_INITIAL_BACKOFF") }
func SubmitMaxBackoff() time.Duration     { return viper.GetDuration("SUBMIT_MAX_BACKOFF") }

func PushQueueSize() int      { return viper.GetInt("PUSH_QUEUE_SIZE") }
func PushWorkers() int        { return viper.GetInt("PUSH_WORKERS") }
func PushQueuePolicy() string { return viper.GetString("PUSH_QUEUE_POLICY") }

func AWSRegion() string      { return viper.GetString("AWS_REGION") }
func S3Bucket() string       { return viper.GetString("AWS_S3_BUCKET") }
func SNSTopicArn() string    { return viper.GetString("AWS_SNS_TOPIC_ARN") }
func DynamoDBTable() string  { return viper.GetString("AWS_DYNAMODB_TABLE") }
func UseCloudServices() bool { return viper.GetBool("USE_CLOUD_SERVICES") }
