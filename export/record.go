package export

import (
	"fmt"
	"strings"
	"time"

	"github.com/maxpert/slotkeeper/notify"
)

// ArtifactMembership is the artifact name given to membership records.
const ArtifactMembership = "membership"

// Record is one exported broadcast as persisted in the log.
type Record struct {
	Seq         uint64 `msgpack:"seq" json:"seq"`
	Kind        string `msgpack:"kind" json:"kind"`
	Type        string `msgpack:"type" json:"type"`
	Artifact    string `msgpack:"artifact" json:"artifact"`
	Member      string `msgpack:"member,omitempty" json:"member,omitempty"`
	Origin      string `msgpack:"origin" json:"origin"`
	Payload     string `msgpack:"payload,omitempty" json:"payload,omitempty"`
	Description string `msgpack:"desc,omitempty" json:"description,omitempty"`
	Timestamp   int64  `msgpack:"ts" json:"timestamp"`
}

// RecordFromEvent converts a relayed event. origin fills membership records,
// which carry no originating node of their own.
func RecordFromEvent(ev notify.Event, origin string, at time.Time) (Record, error) {
	r := Record{
		Kind:      ev.Kind.String(),
		Type:      ev.Type(),
		Origin:    origin,
		Timestamp: at.UnixMilli(),
	}

	switch ev.Kind {
	case notify.KindMembership:
		if ev.Membership == nil {
			return Record{}, fmt.Errorf("membership event without body")
		}
		r.Artifact = ArtifactMembership
		r.Member = ev.Membership.Member
	case notify.KindNotification:
		if ev.Notification == nil {
			return Record{}, fmt.Errorf("notification event without body")
		}
		n := ev.Notification
		r.Artifact = n.Artifact
		r.Payload = n.Payload
		r.Description = n.Description
		if n.OriginatedNodeID != "" {
			r.Origin = n.OriginatedNodeID
		}
	default:
		return Record{}, fmt.Errorf("unknown event kind %d", ev.Kind)
	}
	return r, nil
}

// Subject is the sink topic: prefix.artifact.type, lower-cased with spaces
// and dots inside segments replaced.
func (r Record) Subject(prefix string) string {
	parts := make([]string, 0, 3)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	parts = append(parts, subjectToken(r.Artifact), subjectToken(r.Type))
	return strings.Join(parts, ".")
}

// Key routes records of one artifact or member to the same partition.
func (r Record) Key() string {
	if r.Member != "" {
		return r.Member
	}
	return r.Artifact
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(c rune) rune {
		switch c {
		case '.', ' ', '*', '>':
			return '_'
		}
		return c
	}, strings.ToLower(s))
}
