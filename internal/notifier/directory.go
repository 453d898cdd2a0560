package notifier

import (
	"go.uber.org/zap"

	"homenotify/internal/ha"
)

// Recipient is a configured person eligible to receive notifications.
// NotifyService is the hub service the notification is delivered through
// (e.g. "notify/user1_mobile"); ProximityEntity yields the numeric distance
// from home used for presence resolution.
type Recipient struct {
	Name            string
	NotifyService   string
	ProximityEntity string
	PresenceEntity  string
}

// Directory holds the recipient catalogue. It is built once at startup and
// never mutated afterwards.
type Directory struct {
	recipients []*Recipient
	byName     map[string]*Recipient
	threshold  float64
	logger     *zap.Logger
}

// NewDirectory builds the directory from configured recipients. The threshold
// is the proximity distance at or below which a recipient counts as present.
func NewDirectory(recipients []Recipient, threshold float64, logger *zap.Logger) *Directory {
	d := &Directory{
		recipients: make([]*Recipient, 0, len(recipients)),
		byName:     make(map[string]*Recipient, len(recipients)),
		threshold:  threshold,
		logger:     logger.Named("directory"),
	}

	for i := range recipients {
		r := recipients[i]
		d.recipients = append(d.recipients, &r)
		d.byName[r.Name] = &r
	}

	return d
}

// All returns every configured recipient in declaration order.
func (d *Directory) All() []*Recipient {
	return d.recipients
}

// Lookup returns the recipient with the given name.
func (d *Directory) Lookup(name string) (*Recipient, bool) {
	r, ok := d.byName[name]
	return r, ok
}

// Threshold returns the configured proximity threshold.
func (d *Directory) Threshold() float64 {
	return d.threshold
}

// proximity reads a recipient's distance from home. A recipient whose
// proximity sensor is missing or non-numeric is excluded from presence
// resolution rather than failing the whole dispatch.
func (d *Directory) proximity(client ha.HAClient, r *Recipient) (float64, bool) {
	state, err := client.GetState(r.ProximityEntity)
	if err != nil {
		d.logger.Warn("Proximity sensor unavailable, excluding recipient",
			zap.String("recipient", r.Name),
			zap.String("entity", r.ProximityEntity),
			zap.Error(err))
		return 0, false
	}

	value, err := state.Float()
	if err != nil {
		d.logger.Warn("Proximity value not numeric, excluding recipient",
			zap.String("recipient", r.Name),
			zap.String("value", state.State))
		return 0, false
	}

	return value, true
}

// Present returns the recipients whose proximity is at or below the threshold.
func (d *Directory) Present(client ha.HAClient) []*Recipient {
	var present []*Recipient
	for _, r := range d.recipients {
		if value, ok := d.proximity(client, r); ok && value <= d.threshold {
			present = append(present, r)
		}
	}
	return present
}

// Absent returns the recipients whose proximity is above the threshold.
func (d *Directory) Absent(client ha.HAClient) []*Recipient {
	var absent []*Recipient
	for _, r := range d.recipients {
		if value, ok := d.proximity(client, r); ok && value > d.threshold {
			absent = append(absent, r)
		}
	}
	return absent
}

// Nearest returns the recipient(s) with the smallest proximity value.
// Ties are returned together so nobody is arbitrarily skipped.
func (d *Directory) Nearest(client ha.HAClient) []*Recipient {
	var nearest []*Recipient
	var best float64

	for _, r := range d.recipients {
		value, ok := d.proximity(client, r)
		if !ok {
			continue
		}
		switch {
		case len(nearest) == 0 || value < best:
			nearest = []*Recipient{r}
			best = value
		case value == best:
			nearest = append(nearest, r)
		}
	}

	return nearest
}
