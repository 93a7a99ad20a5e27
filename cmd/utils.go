package cmd

import (
	"flag"
	"log"

	"trainpipe/internal/messaging"
	"trainpipe/internal/storage"

	"github.com/joho/godotenv"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

// StorageConfig selects the object store backing the training backend and
// the pipeline. A local directory takes precedence; otherwise the S3
// settings are used.
type StorageConfig struct {
	StorageDir        string `env:"STORAGE_DIR" envDefault:""`
	S3EndpointURL     string `env:"S3_ENDPOINT_URL" envDefault:""`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID" envDefault:""`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY" envDefault:""`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
}

func CreateObjectStore(cfg StorageConfig) storage.Provider {
	if cfg.StorageDir != "" {
		store, err := storage.NewLocalObjectStore(cfg.StorageDir)
		if err != nil {
			log.Fatalf("Failed to create local object store: %v", err)
		}
		return store
	}

	store, err := storage.NewS3ObjectStore(storage.S3ClientConfig{
		Endpoint:        cfg.S3EndpointURL,
		Region:          cfg.S3Region,
		AccessKeyID:     cfg.S3AccessKeyID,
		SecretAccessKey: cfg.S3SecretAccessKey,
	})
	if err != nil {
		log.Fatalf("Failed to create S3 object store: %v", err)
	}
	return store
}

// CreateQueue returns the task queue pair for the backend. Without a
// RabbitMQ URL everything runs through the in-process queue.
func CreateQueue(rabbitMQURL string) (messaging.Publisher, messaging.Receiver) {
	if rabbitMQURL == "" {
		queue := messaging.NewInMemoryQueue()
		return queue, queue
	}

	publisher, err := messaging.NewRabbitMQPublisher(rabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	receiver, err := messaging.NewRabbitMQReceiver(rabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}
	return publisher, receiver
}
