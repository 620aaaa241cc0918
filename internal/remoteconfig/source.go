package remoteconfig

import (
	"context"
	"fmt"
	"os"

	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"
)

// DefaultRedisKey is the hash holding published config values.
const DefaultRedisKey = "friendlychat:config"

// RedisSource reads values from a Redis hash, so operators can change them
// with HSET.
type RedisSource struct {
	client *redis.Client
	key    string
}

// NewRedisSource reads from the hash at key.
func NewRedisSource(client *redis.Client, key string) *RedisSource {
	if key == "" {
		key = DefaultRedisKey
	}
	return &RedisSource{client: client, key: key}
}

// Values implements Source.
func (s *RedisSource) Values(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("hgetall %s: %w", s.key, err)
	}
	return values, nil
}

// FileSource reads a flat YAML mapping of keys to scalar values.
type FileSource struct {
	path string
}

// NewFileSource reads values from path on every fetch.
func NewFileSource(path string) *FileSource {
	return &FileSource{path: path}
}

// Values implements Source.
func (s *FileSource) Values(ctx context.Context) (map[string]string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, err
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}

	values := make(map[string]string, len(parsed))
	for k, v := range parsed {
		switch v.(type) {
		case map[string]interface{}, []interface{}, nil:
			continue
		}
		values[k] = fmt.Sprint(v)
	}
	return values, nil
}
