package notifier

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"homenotify/internal/clock"
	"homenotify/internal/ha"
)

// Router resolves one notification request into zero or more per-recipient
// dispatches. Presence is read live from the hub at routing time.
type Router struct {
	client    ha.HAClient
	directory *Directory
	tracker   *Tracker
	clock     clock.Clock
	logger    *zap.Logger
}

// NewRouter creates a notification router. The tracker owns deferred
// clearing and staged requests for the router's tagged dispatches.
func NewRouter(client ha.HAClient, directory *Directory, tracker *Tracker, clk clock.Clock, logger *zap.Logger) *Router {
	return &Router{
		client:    client,
		directory: directory,
		tracker:   tracker,
		clock:     clk,
		logger:    logger.Named("router"),
	}
}

// Route dispatches the request to the recipients its action resolves to.
// An unknown named recipient is logged and dropped without error; hub call
// failures abort this request only and are returned to the caller.
func (r *Router) Route(req *Request) error {
	recipients, staged := r.resolve(req)
	if staged {
		r.tracker.Stage(req)
		r.logger.Info("Staging notification until home becomes occupied",
			zap.String("title", req.Title))
		return nil
	}

	return r.dispatch(req, recipients)
}

// resolve translates the request's action into a recipient set. The second
// return reports that the request must be staged instead of dispatched.
func (r *Router) resolve(req *Request) ([]*Recipient, bool) {
	if name, ok := req.TargetName(); ok {
		recipient, found := r.directory.Lookup(name)
		if !found {
			r.logger.Warn("Unknown notification recipient",
				zap.String("recipient", name),
				zap.String("action", req.Action))
			return nil, false
		}
		return []*Recipient{recipient}, false
	}

	switch req.Action {
	case ActionSendToAll:
		return r.directory.All(), false
	case ActionSendToPresent:
		return r.directory.Present(r.client), false
	case ActionSendToAbsent:
		return r.directory.Absent(r.client), false
	case ActionSendToNearest:
		return r.directory.Nearest(r.client), false
	case ActionSendWhenPresent:
		present := r.directory.Present(r.client)
		if len(present) == 0 {
			return nil, true
		}
		return present, false
	default:
		r.logger.Warn("Unknown notification action", zap.String("action", req.Action))
		return nil, false
	}
}

// dispatch sends the formatted notification to every resolved recipient and
// registers persistence and watch bookkeeping for the request.
func (r *Router) dispatch(req *Request, recipients []*Recipient) error {
	data := req.Data()

	for _, recipient := range recipients {
		r.logger.Info("Sending notification",
			zap.String("recipient", recipient.Name),
			zap.String("title", req.Title))

		domain, service, err := splitService(recipient.NotifyService)
		if err != nil {
			r.logger.Error("Bad notify service", zap.String("recipient", recipient.Name), zap.Error(err))
			continue
		}

		payload := map[string]interface{}{
			"title":   req.Title,
			"message": req.Message,
		}
		if len(data) > 0 {
			payload["data"] = data
		}

		if err := r.client.CallService(domain, service, payload); err != nil {
			return fmt.Errorf("failed to notify %s: %w", recipient.Name, err)
		}
	}

	if req.Persistent {
		if err := r.persist(req); err != nil {
			return err
		}
	}

	// Tagged requests are tracked even without watch conditions so a later
	// discard event or action click can still clear them.
	if req.Tag != "" {
		r.tracker.RegisterWatch(req.Tag, recipients, req.Until)
	}

	return nil
}

// persist mirrors the notification onto the hub front-end. Untagged
// persistent notifications fall back to the current timestamp as their id;
// two of them within the same second collide, matching upstream behavior.
func (r *Router) persist(req *Request) error {
	id := req.Tag
	if id == "" {
		id = fmt.Sprintf("%d", r.clock.Now().Unix())
	}

	r.logger.Info("Persisting notification on the hub front-end",
		zap.String("notification_id", id))

	return r.client.CallService("persistent_notification", "create", map[string]interface{}{
		"title":           req.Title,
		"message":         req.Message,
		"notification_id": id,
	})
}

// splitService splits "notify/user1_mobile" into domain and service.
func splitService(name string) (string, string, error) {
	domain, service, ok := strings.Cut(name, "/")
	if !ok || domain == "" || service == "" {
		return "", "", fmt.Errorf("service %q is not of the form domain/service", name)
	}
	return domain, service, nil
}
