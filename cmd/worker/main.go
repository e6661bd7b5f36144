package main

import (
	"encoding/json"
	"log"

	"poolcontrol/internal/handlers/business"
	"poolcontrol/internal/models"
	"poolcontrol/pkg/config"

	logrus "github.com/sirupsen/logrus"
)

// VoteOutcomeMessage is produced by the trading side after each decision
// round with the participant's updated accuracy counters.
type VoteOutcomeMessage struct {
	RunID        uint64 `json:"run_id"`
	UserAddress  string `json:"user_address"`
	CorrectVotes uint8  `json:"correct_votes"`
	TotalVotes   uint8  `json:"total_votes"`
}

func main() {
	// Initialize logger
	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetLevel(logrus.InfoLevel)

	// Initialize database
	config.InitDB()

	// Initialize RabbitMQ
	config.InitRabbitMQ()
	defer config.RabbitMQ.Close()

	// Create consumer for the vote outcome queue
	msgConsumer, err := config.NewConsumer("vote_outcomes")
	if err != nil {
		logrus.Fatal("Failed to create consumer: ", err)
	}
	defer msgConsumer.Close()

	logrus.Info("Vote outcome worker started, waiting for messages...")

	// Start consuming messages
	err = msgConsumer.Consume(func(msg []byte) error {
		var outcome VoteOutcomeMessage
		if err := json.Unmarshal(msg, &outcome); err != nil {
			logrus.Errorf("Failed to unmarshal message: %v", err)
			return err
		}

		logrus.WithFields(logrus.Fields{
			"run_id":        outcome.RunID,
			"user_address":  outcome.UserAddress,
			"correct_votes": outcome.CorrectVotes,
			"total_votes":   outcome.TotalVotes,
		}).Info("Received vote outcome")

		// Vote stats updates are an authority action; the worker acts as the
		// platform authority.
		var platform models.Platform
		if err := config.DB.First(&platform).Error; err != nil {
			logrus.Errorf("Failed to load platform: %v", err)
			return err
		}

		err := business.UpdateVoteStats(config.DB, platform.Authority,
			outcome.RunID, outcome.UserAddress, outcome.CorrectVotes, outcome.TotalVotes)
		if err != nil {
			switch business.KindOf(err) {
			case business.KindNotFound, business.KindOutOfRange, business.KindInvalidState:
				// Not retryable: drop the message instead of requeueing it
				// forever.
				logrus.WithFields(logrus.Fields{
					"run_id":       outcome.RunID,
					"user_address": outcome.UserAddress,
					"error":        err.Error(),
				}).Warn("Dropping unprocessable vote outcome")
				return nil
			default:
				logrus.Errorf("Failed to update vote stats: %v", err)
				return err
			}
		}

		logrus.WithFields(logrus.Fields{
			"run_id":       outcome.RunID,
			"user_address": outcome.UserAddress,
		}).Info("Vote stats updated")
		return nil
	})

	if err != nil {
		log.Fatal("Failed to start consumer: ", err)
	}
}
