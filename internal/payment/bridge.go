package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"

	"github.com/avelar/go-storefront/internal/database"
	"github.com/avelar/go-storefront/internal/store"
	"github.com/google/uuid"
)

const (
	StatusApproved  = "approved"
	StatusRejected  = "rejected"
	StatusCancelled = "cancelled"
)

// Notification is the gateway's asynchronous payment signal: which order it
// concerns (via the external reference we handed out at preference creation)
// and what happened to the payment.
type Notification struct {
	EventID           string `json:"event_id"`
	ExternalReference string `json:"external_reference"`
	Status            string `json:"status"`
}

// Bridge maps gateway notifications onto the order lifecycle. It is safe to
// replay: a repeated approval hits the already-paid guard, a repeated
// rejection hits the already-cancelled guard, and both are acknowledged
// without re-touching stock. Semantic dead ends (unknown order, unknown
// status, paid order being rejected) are logged and acknowledged so the
// gateway does not exhaust retries against a permanently failing handler;
// only infrastructure errors surface to the caller.
type Bridge struct {
	DB *sql.DB
}

func (b *Bridge) HandleNotification(ctx context.Context, n Notification) error {
	if n.EventID == "" {
		n.EventID = uuid.NewString()
	}

	orderID, err := strconv.ParseInt(n.ExternalReference, 10, 64)
	if err != nil {
		log.Printf("payment event %s: unparseable external reference %q, acknowledging", n.EventID, n.ExternalReference)
		return nil
	}

	switch n.Status {
	case StatusApproved:
		_, err := store.MarkOrderPaid(ctx, b.DB, orderID)
		switch {
		case err == nil:
			log.Printf("payment event %s: order %d confirmed paid", n.EventID, orderID)
			return nil
		case errors.Is(err, database.ErrOrderAlreadyPaid):
			log.Printf("payment event %s: order %d already paid, acknowledging replay", n.EventID, orderID)
			return nil
		case errors.Is(err, database.ErrOrderNotFound):
			log.Printf("payment event %s: order %d not found, acknowledging", n.EventID, orderID)
			return nil
		default:
			return fmt.Errorf("confirm payment for order %d: %w", orderID, err)
		}

	case StatusRejected, StatusCancelled:
		_, err := store.CancelOrder(ctx, b.DB, orderID)
		switch {
		case err == nil:
			log.Printf("payment event %s: order %d cancelled (%s)", n.EventID, orderID, n.Status)
			return nil
		case errors.Is(err, database.ErrOrderAlreadyCancelled):
			log.Printf("payment event %s: order %d already cancelled, acknowledging replay", n.EventID, orderID)
			return nil
		case errors.Is(err, database.ErrOrderPaid):
			log.Printf("payment event %s: order %d already paid, ignoring %s", n.EventID, orderID, n.Status)
			return nil
		case errors.Is(err, database.ErrOrderNotFound):
			log.Printf("payment event %s: order %d not found, acknowledging", n.EventID, orderID)
			return nil
		default:
			return fmt.Errorf("cancel order %d: %w", orderID, err)
		}

	default:
		log.Printf("payment event %s: unrecognized status %q for order %d, acknowledging", n.EventID, n.Status, orderID)
		return nil
	}
}
