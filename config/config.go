package config

import (
	"fmt"
	"os"

	"go.yaml.in/yaml/v4"
)

type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Redis      RedisConfig      `yaml:"redis"`
	MarketSync MarketSyncConfig `yaml:"marketsync"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DBName   string `yaml:"name"`
	SSLMode  string `yaml:"ssl_mode"`
}

type KafkaConfig struct {
	Host                     string `yaml:"host"`
	Port                     int    `yaml:"port"`
	TrackingRefreshTopicName string `yaml:"tracking_refresh_topic_name"`
	SyncRequestedTopicName   string `yaml:"sync_requested_topic_name"`
}

type RedisConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type MarketSyncConfig struct {
	HTTPAddr           string `yaml:"http_addr"`
	KafkaConsumerGroup string `yaml:"kafka_consumer_group"`
	OrgID              string `yaml:"org_id"`

	SyncBatchSize          int `yaml:"sync_batch_size"`
	SyncPageSize           int `yaml:"sync_page_size"`
	SyncPageDelayMillis    int `yaml:"sync_page_delay_millis"`
	SyncBatchDelayMillis   int `yaml:"sync_batch_delay_millis"`
	SyncDetailDelayMillis  int `yaml:"sync_detail_delay_millis"`
	SyncRateLimitPerMinute int `yaml:"sync_rate_limit_per_minute"`

	PreviewTTLSeconds int `yaml:"preview_ttl_seconds"`

	MarketplaceBaseURL string       `yaml:"marketplace_base_url"`
	MarketplaceMode    string       `yaml:"marketplace_mode"` // "openapi" | "fake"
	MarketplaceAppKey  string       `yaml:"marketplace_app_key"`
	Shops              []ShopConfig `yaml:"shops"`
}

type ShopConfig struct {
	ID          string `yaml:"id"`
	AccessToken string `yaml:"access_token"`
	Cipher      string `yaml:"cipher"`
}

func LoadConfig(filename string) (*Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	err = yaml.Unmarshal(data, &config)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return &config, nil
}

// Shop возвращает учётные данные магазина по id (или nil, если магазин не настроен).
func (c *Config) Shop(shopID string) *ShopConfig {
	for i := range c.MarketSync.Shops {
		if c.MarketSync.Shops[i].ID == shopID {
			return &c.MarketSync.Shops[i]
		}
	}
	return nil
}
