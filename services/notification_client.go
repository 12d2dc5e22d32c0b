package services

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"

	"challenge-arbitration-service/utils"
)

// NotificationSink delivers user-facing notifications. Delivery is
// fire-and-forget: callers log failures and never let them roll back the
// transaction that triggered them.
type NotificationSink interface {
	Notify(userID, eventType string, payload map[string]interface{}) error
}

// Notification event types sent to the notification service.
const (
	NotifyChallengeInvite    = "challenge_invite"
	NotifyChallengeAccepted  = "challenge_accepted"
	NotifyChallengeRejected  = "challenge_rejected"
	NotifyChallengeCancelled = "challenge_cancelled"
	NotifyJudgeInvite        = "judge_invite"
	NotifyJudgeAccepted      = "judge_accepted"
	NotifyJudgeRejected      = "judge_rejected"
	NotifyEvaluationStarted  = "evaluation_started"
	NotifyVerdictDelivered   = "verdict_delivered"
)

type NotificationServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewNotificationServiceClient(baseURL, token string) *NotificationServiceClient {
	return &NotificationServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

// Notify posts a notification event to the notification service.
func (c *NotificationServiceClient) Notify(userID, eventType string, payload map[string]interface{}) error {
	url := fmt.Sprintf("%s/notifications", c.BaseURL)

	reqBody := map[string]interface{}{
		"user_id":    userID,
		"event_type": eventType,
		"payload":    payload,
	}
	jsonData, _ := json.Marshal(reqBody)

	req, err := http.NewRequest("POST", url, bytes.NewBuffer(jsonData))
	if err != nil {
		return err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		log.Printf("NotificationService returned %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("notification dispatch failed: %d", resp.StatusCode)
	}

	return nil
}

// notify logs and swallows delivery failures. Nil sinks are tolerated so
// tests can construct services without a notification backend.
func notify(sink NotificationSink, userID, eventType string, payload map[string]interface{}) {
	if sink == nil {
		return
	}
	if err := sink.Notify(userID, eventType, payload); err != nil {
		log.Printf("notification %s to %s failed: %v", eventType, userID, err)
	}
}
