package queue

import (
	"context"
	"encoding/json"
	"log"

	"github.com/hibiken/asynq"
)

func (q *Queue) HandlePublishPostTask(ctx context.Context, task *asynq.Task) error {
	var payload PublishPostPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}

	results, err := q.ps.PublishPost(ctx, payload.PostID)
	if err != nil {
		log.Printf("Error publishing post %d: %v", payload.PostID, err)
		return err
	}

	for _, result := range results {
		if !result.Success {
			log.Printf("Error posting to %s for PostID %d: %v", result.Platform, payload.PostID, result.Err)
		}
	}

	return nil
}
