package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"cloud.google.com/go/pubsub"

	"github.com/mmdatafocus/txsummary/config"
)

// SummaryRunMessage announces a finished materialization run so API
// instances can drop cached summary responses.
type SummaryRunMessage struct {
	RunId              string    `json:"run_id"`
	Scope              string    `json:"scope"`
	StartedAt          time.Time `json:"started_at"`
	FinishedAt         time.Time `json:"finished_at"`
	MerchantsProcessed int       `json:"merchants_processed"`
	BucketsWritten     int       `json:"buckets_written"`
	BucketsPruned      int64     `json:"buckets_pruned"`
	BucketErrors       int       `json:"bucket_errors"`
}

func NewSummaryRunMessage(r *MaterializeReport) SummaryRunMessage {
	return SummaryRunMessage{
		RunId:              r.RunId,
		Scope:              string(r.Scope),
		StartedAt:          r.StartedAt,
		FinishedAt:         r.FinishedAt,
		MerchantsProcessed: r.MerchantsProcessed,
		BucketsWritten:     r.BucketsWritten,
		BucketsPruned:      r.BucketsPruned,
		BucketErrors:       len(r.Errors),
	}
}

func DecodeSummaryRunMessage(data []byte) (SummaryRunMessage, error) {
	var msg SummaryRunMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return SummaryRunMessage{}, err
	}
	if msg.RunId == "" {
		return SummaryRunMessage{}, errors.New("summary run message without run_id")
	}
	return msg, nil
}

// PublishSummaryRun returns the Pub/Sub message ID.
func PublishSummaryRun(ctx context.Context, client *pubsub.Client, topic string, msg SummaryRunMessage) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return config.PublishJSON(ctx, client, topic, msg)
}
