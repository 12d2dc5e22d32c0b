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

// RewardLedger awards engagement points after successful transitions.
// Failures are logged, never propagated to the triggering operation.
type RewardLedger interface {
	Award(userID string, points int64, reason string, metadata map[string]interface{}) error
}

// PointWeights define relative point values (tunable via config/env later).
type PointWeights struct {
	ChallengeAccepted int64
	JudgeAccepted     int64
	VerdictDelivered  int64
	ChallengeWon      int64
}

var DefaultPointWeights = PointWeights{
	ChallengeAccepted: 50,
	JudgeAccepted:     100,
	VerdictDelivered:  250,
	ChallengeWon:      500,
}

type RewardServiceClient struct {
	BaseURL string
	Token   string
	Client  *http.Client
}

func NewRewardServiceClient(baseURL, token string) *RewardServiceClient {
	return &RewardServiceClient{
		BaseURL: baseURL,
		Token:   token,
		Client:  utils.HTTPClient,
	}
}

// Award posts a point grant to the reward service ledger.
func (c *RewardServiceClient) Award(userID string, points int64, reason string, metadata map[string]interface{}) error {
	url := fmt.Sprintf("%s/rewards/award", c.BaseURL)

	reqBody := map[string]interface{}{
		"user_id":  userID,
		"points":   points,
		"reason":   reason,
		"metadata": metadata,
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
		log.Printf("RewardService returned %d: %s", resp.StatusCode, string(body))
		return fmt.Errorf("reward award failed: %d", resp.StatusCode)
	}

	return nil
}

// award logs and swallows ledger failures. Nil ledgers are tolerated so
// tests can construct services without a reward backend.
func award(ledger RewardLedger, userID string, points int64, reason string, metadata map[string]interface{}) {
	if ledger == nil {
		return
	}
	if err := ledger.Award(userID, points, reason, metadata); err != nil {
		log.Printf("reward award (%s, %d pts) to %s failed: %v", reason, points, userID, err)
	}
}
