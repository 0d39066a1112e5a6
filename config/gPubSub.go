package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"cloud.google.com/go/pubsub"
	"google.golang.org/api/option"
)

// NewPubSubClient uses Application Default Credentials unless credJSON is provided.
func NewPubSubClient(ctx context.Context, projectID string, credJSON string) (*pubsub.Client, error) {
	if projectID == "" {
		return nil, errors.New("PUBSUB_PROJECT_ID/GOOGLE_CLOUD_PROJECT not set")
	}

	var (
		c   *pubsub.Client
		err error
	)
	if credJSON != "" {
		c, err = pubsub.NewClient(ctx, projectID, option.WithCredentialsJSON([]byte(credJSON)))
	} else {
		// Uses Application Default Credentials (Cloud Run service account or GOOGLE_APPLICATION_CREDENTIALS).
		c, err = pubsub.NewClient(ctx, projectID)
	}
	if err != nil {
		return nil, fmt.Errorf("init pubsub client (project_id=%s): %w", projectID, err)
	}
	log.Printf("pubsub client ready (project_id=%s)", projectID)
	return c, nil
}

// PublishJSON publishes obj on topicName and returns the server-assigned message ID.
func PublishJSON(ctx context.Context, c *pubsub.Client, topicName string, obj any) (string, error) {
	if c == nil {
		return "", errors.New("pubsub client is nil")
	}
	if topicName == "" {
		return "", errors.New("topicName is required")
	}

	data, err := json.Marshal(obj)
	if err != nil {
		return "", err
	}
	t := c.Topic(topicName)
	defer t.Stop()

	result := t.Publish(ctx, &pubsub.Message{Data: data})
	return result.Get(ctx)
}
