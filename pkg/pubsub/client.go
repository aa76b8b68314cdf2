package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	pubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

type Client struct {
	client    *pubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu        sync.Mutex
	commands  *pubsub.Publisher
	resources []string
}

var (
	errProjectIDRequired   = errors.New("gcp project id is required")
	errCommandsTopicNeeded = errors.New("pubsub commands topic is required")
)

// Role selects which Pub/Sub resources a binary depends on.
type Role int

const (
	// RolePublisher needs the commands topic.
	RolePublisher Role = iota
	// RoleSubscriber needs the outcomes subscription as well.
	RoleSubscriber
)

// NewClient creates a Pub/Sub v2 client and ensures the resources for role exist.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, role Role, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	if strings.TrimSpace(cfg.CommandsTopic) == "" {
		return nil, errCommandsTopicNeeded
	}

	psClient, err := pubsub.NewClient(ctx, gcp.ProjectID, clientOptions(gcp)...)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}

	c := &Client{
		client:    psClient,
		projectID: gcp.ProjectID,
		cfg:       cfg,
	}
	c.resources = []string{c.topicResourceName(cfg.CommandsTopic)}
	if role == RoleSubscriber {
		if strings.TrimSpace(cfg.OutcomesSubscription) == "" {
			_ = psClient.Close()
			return nil, errors.New("pubsub outcomes subscription is required")
		}
		c.resources = append(c.resources, c.subscriptionResourceName(cfg.OutcomesSubscription))
	}

	if err := c.ensureResources(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}

	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}

	return c, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

func (c *Client) ensureResources(ctx context.Context) error {
	for _, name := range c.resources {
		var err error
		if strings.Contains(name, "/subscriptions/") {
			_, err = c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{Subscription: name})
		} else {
			_, err = c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{Topic: name})
		}
		if err != nil {
			// v2 uses gRPC errors; NotFound means the resource doesn't exist.
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("pubsub resource %q does not exist", name)
			}
			return fmt.Errorf("checking pubsub resource %q: %w", name, err)
		}
	}
	return nil
}

// CommandsPublisher returns the process-wide ordered publisher for terminal commands.
// Ordering must be enabled for ordering keys to be accepted.
func (c *Client) CommandsPublisher() *pubsub.Publisher {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.commands == nil {
		pub := c.client.Publisher(c.topicResourceName(c.cfg.CommandsTopic))
		pub.EnableMessageOrdering = true
		c.commands = pub
	}
	return c.commands
}

// CommandsTopic returns the fully qualified commands topic.
func (c *Client) CommandsTopic() string {
	return c.topicResourceName(c.cfg.CommandsTopic)
}

// OutcomesSubscription returns the subscriber for processor outcomes.
func (c *Client) OutcomesSubscription() *pubsub.Subscriber {
	if c == nil || c.client == nil {
		return nil
	}
	fullName := c.subscriptionResourceName(c.cfg.OutcomesSubscription)
	if fullName == "" {
		return nil
	}
	return c.client.Subscriber(fullName)
}

// Ping verifies Pub/Sub connectivity by checking the configured resources exist.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	return c.ensureResources(ctx)
}

// Close flushes the commands publisher and releases the client.
func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	if c.commands != nil {
		c.commands.Stop()
		c.commands = nil
	}
	c.mu.Unlock()
	return c.client.Close()
}

func (c *Client) subscriptionResourceName(name string) string {
	return resourceName(c.projectID, name, "subscriptions")
}

func (c *Client) topicResourceName(name string) string {
	return resourceName(c.projectID, name, "topics")
}

func resourceName(projectID, name, kind string) string {
	n := strings.TrimSpace(name)
	if n == "" {
		return ""
	}
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	p := strings.TrimSpace(projectID)
	if p == "" {
		return ""
	}
	return fmt.Sprintf("projects/%s/%s/%s", p, kind, n)
}
