// Command email-processor is the Lambda invoked by the SES receipt rule. It
// forwards each event to the API, which stores and routes the message.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	"github.com/sirupsen/logrus"

	"inbound-backend/internal/inbound"
	"inbound-backend/internal/logging"
)

var log = logging.WithComponent("email-processor")

type handler struct {
	client *inbound.Client
}

func (h *handler) handle(ctx context.Context, event events.SimpleEmailEvent) error {
	for _, rec := range event.Records {
		log.WithFields(logrus.Fields{
			"message_id": rec.SES.Mail.MessageID,
			"source":     rec.SES.Mail.Source,
			"recipients": rec.SES.Receipt.Recipients,
			"spam":       rec.SES.Receipt.SpamVerdict.Status,
			"virus":      rec.SES.Receipt.VirusVerdict.Status,
		}).Info("received SES event")
	}

	results, err := h.client.Forward(ctx, inbound.Request{Event: event})
	if err != nil {
		// returning the error lets Lambda's async retry policy try again
		log.WithError(err).Error("failed to forward SES event")
		return err
	}

	for _, res := range results {
		for _, out := range res.Outcomes {
			log.WithFields(logrus.Fields{
				"message_id": res.MessageID,
				"recipient":  out.Recipient,
				"outcome":    out.Status,
				"reason":     out.Reason,
			}).Info("recipient processed")
		}
	}
	return nil
}

func buildHandler() (*handler, error) {
	apiURL := os.Getenv("API_URL")
	key := os.Getenv("SERVICE_API_KEY")
	if apiURL == "" || key == "" {
		return nil, fmt.Errorf("API_URL and SERVICE_API_KEY must be set")
	}
	return &handler{client: inbound.NewClient(apiURL, key, nil)}, nil
}

func main() {
	// CloudWatch keeps one JSON object per line
	logging.Init("release")

	h, err := buildHandler()
	if err != nil {
		log.WithError(err).Fatal("Failed to initialize email processor")
	}
	lambda.Start(h.handle)
}
