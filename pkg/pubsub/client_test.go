package pubsub

import (
	"context"
	"testing"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
)

func TestResourceName(t *testing.T) {
	tests := []struct {
		name, project, in, kind, want string
	}{
		{name: "short topic", project: "proj", in: "payment-commands", kind: "topics", want: "projects/proj/topics/payment-commands"},
		{name: "full topic", project: "proj", in: "projects/other/topics/cmds", kind: "topics", want: "projects/other/topics/cmds"},
		{name: "short subscription", project: "proj", in: " outcomes ", kind: "subscriptions", want: "projects/proj/subscriptions/outcomes"},
		{name: "empty", project: "proj", in: "", kind: "topics", want: ""},
		{name: "no project", project: "", in: "cmds", kind: "topics", want: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := resourceName(tt.project, tt.in, tt.kind); got != tt.want {
				t.Fatalf("expected %q got %q", tt.want, got)
			}
		})
	}
}

func TestClientOptions(t *testing.T) {
	if opts := clientOptions(config.GCPConfig{}); len(opts) != 0 {
		t.Fatalf("expected default credentials, got %d options", len(opts))
	}
	if opts := clientOptions(config.GCPConfig{CredentialsJSON: `{"type":"service_account"}`}); len(opts) != 1 {
		t.Fatalf("expected json credentials option")
	}
	if opts := clientOptions(config.GCPConfig{ApplicationCredentials: "/tmp/key.json"}); len(opts) != 1 {
		t.Fatalf("expected file credentials option")
	}
}

func TestNewClientValidatesConfig(t *testing.T) {
	if _, err := NewClient(context.Background(), config.GCPConfig{}, config.PubSubConfig{CommandsTopic: "c"}, RolePublisher, nil); err != errProjectIDRequired {
		t.Fatalf("expected project id error, got %v", err)
	}
	if _, err := NewClient(context.Background(), config.GCPConfig{ProjectID: "p"}, config.PubSubConfig{}, RolePublisher, nil); err != errCommandsTopicNeeded {
		t.Fatalf("expected topic error, got %v", err)
	}
}

func TestNilClientIsSafe(t *testing.T) {
	var c *Client
	if c.CommandsPublisher() != nil || c.OutcomesSubscription() != nil {
		t.Fatalf("nil client must return nil handles")
	}
	if err := c.Close(); err != nil {
		t.Fatalf("close on nil client: %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("expected ping error on nil client")
	}
}
