package action

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"go-automation/internal/features/crmtask"
	"go-automation/internal/features/email"
	"go-automation/internal/features/subscriber"
	"go-automation/internal/features/webhook"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type fakeSubscribers struct {
	sub     *subscriber.Subscriber
	tags    []string
	lists   []string
	removed []string
}

func (f *fakeSubscribers) Get(ctx context.Context, id string) (*subscriber.Subscriber, error) {
	if f.sub == nil {
		return nil, fmt.Errorf("subscriber %s not found", id)
	}
	return f.sub, nil
}
func (f *fakeSubscribers) AddTag(ctx context.Context, id, tag string) error {
	f.tags = append(f.tags, tag)
	return nil
}
func (f *fakeSubscribers) RemoveTag(ctx context.Context, id, tag string) error {
	f.removed = append(f.removed, tag)
	return nil
}
func (f *fakeSubscribers) AddToList(ctx context.Context, id, listID string) error {
	f.lists = append(f.lists, listID)
	return nil
}
func (f *fakeSubscribers) RemoveFromList(ctx context.Context, id, listID string) error {
	return nil
}

type fakeEmails struct {
	sent     []email.Email
	messages []string
}

func (f *fakeEmails) Send(ctx context.Context, msg email.Email) error {
	f.sent = append(f.sent, msg)
	return nil
}
func (f *fakeEmails) SendMessage(ctx context.Context, messageID, to, dedupKey string) error {
	f.messages = append(f.messages, messageID)
	return nil
}

type fakeWebhooks struct {
	deliveries []webhook.Delivery
}

func (f *fakeWebhooks) Deliver(ctx context.Context, d webhook.Delivery) error {
	f.deliveries = append(f.deliveries, d)
	return nil
}

type fakeTasks struct {
	tasks []*crmtask.Task
}

func (f *fakeTasks) Create(ctx context.Context, task *crmtask.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}
func (f *fakeTasks) ListBySubscriber(ctx context.Context, subscriberID string) ([]crmtask.Task, error) {
	return nil, nil
}

type registryFixture struct {
	subs     *fakeSubscribers
	emails   *fakeEmails
	webhooks *fakeWebhooks
	tasks    *fakeTasks
	registry *Registry
}

func newRegistryFixture() *registryFixture {
	fix := &registryFixture{
		subs:     &fakeSubscribers{sub: &subscriber.Subscriber{Email: "a@b.com", Phone: "+1555"}},
		emails:   &fakeEmails{},
		webhooks: &fakeWebhooks{},
		tasks:    &fakeTasks{},
	}
	fix.registry = NewRegistry(fix.subs, fix.emails, fix.webhooks, fix.tasks, zap.NewNop())
	return fix
}

func req() Request {
	return Request{
		AccountID:    primitive.NewObjectID().Hex(),
		SubscriberID: "sub1",
		DedupKey:     "rule1:sub1:evt1:0",
		Payload:      map[string]interface{}{"name": "Ada"},
	}
}

func TestExecuteUnknownType(t *testing.T) {
	fix := newRegistryFixture()
	err := fix.registry.Execute(context.Background(), Action{Type: "time_travel"}, req())
	if err == nil || !strings.Contains(err.Error(), "unsupported action type") {
		t.Errorf("unknown type should fail closed, got %v", err)
	}
}

func TestExecuteAddTag(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type:   TypeAddTag,
		Config: map[string]interface{}{"tag": "vip"},
	}, req())
	if err != nil {
		t.Fatal(err)
	}
	if len(fix.subs.tags) != 1 || fix.subs.tags[0] != "vip" {
		t.Errorf("tags = %v, want [vip]", fix.subs.tags)
	}

	// Missing config is a failure, not a silent no-op
	err = fix.registry.Execute(context.Background(), Action{Type: TypeAddTag}, req())
	if err == nil {
		t.Error("add_tag without a tag should fail")
	}
}

func TestExecuteSendEmailInline(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type: TypeSendEmail,
		Config: map[string]interface{}{
			"subject": "Welcome {{name}}",
			"body":    "<p>Hi {{name}}</p>",
		},
	}, req())
	if err != nil {
		t.Fatal(err)
	}

	if len(fix.emails.sent) != 1 {
		t.Fatalf("want 1 email, got %d", len(fix.emails.sent))
	}
	sent := fix.emails.sent[0]
	if sent.Subject != "Welcome Ada" {
		t.Errorf("subject = %q, placeholder not replaced", sent.Subject)
	}
	if sent.DedupKey == "" {
		t.Error("dedup key must be forwarded to the sender")
	}
}

func TestExecuteSendEmailTemplate(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type:   TypeSendEmail,
		Config: map[string]interface{}{"message_id": "M42"},
	}, req())
	if err != nil {
		t.Fatal(err)
	}
	if len(fix.emails.messages) != 1 || fix.emails.messages[0] != "M42" {
		t.Errorf("messages = %v, want [M42]", fix.emails.messages)
	}
}

func TestExecuteCreateTask(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type: TypeCreateCRMTask,
		Config: map[string]interface{}{
			"subject":     "Call {{name}}",
			"description": "Follow up",
		},
	}, req())
	if err != nil {
		t.Fatal(err)
	}

	if len(fix.tasks.tasks) != 1 {
		t.Fatalf("want 1 task, got %d", len(fix.tasks.tasks))
	}
	task := fix.tasks.tasks[0]
	if task.Subject != "Call Ada" {
		t.Errorf("subject = %q, placeholder not replaced", task.Subject)
	}
	if task.DedupKey == "" {
		t.Error("task must carry the dedup key for replay detection")
	}
}

func TestExecuteCallWebhook(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type: TypeCallWebhook,
		Config: map[string]interface{}{
			"url":    "https://example.com/hook",
			"secret": "s3cret",
		},
	}, req())
	if err != nil {
		t.Fatal(err)
	}
	if len(fix.webhooks.deliveries) != 1 {
		t.Fatalf("want 1 delivery, got %d", len(fix.webhooks.deliveries))
	}
	if fix.webhooks.deliveries[0].Secret != "s3cret" {
		t.Error("secret must be forwarded for signing")
	}
}

type fakeEnroller struct {
	enrolled []string
}

func (f *fakeEnroller) EnrollSubscriber(ctx context.Context, accountID, funnelID, subscriberID string) error {
	f.enrolled = append(f.enrolled, funnelID)
	return nil
}

func TestEnrollInFunnelRequiresEnroller(t *testing.T) {
	fix := newRegistryFixture()

	act := Action{Type: TypeEnrollInFunnel, Config: map[string]interface{}{"funnel_id": "f1"}}

	// Before wiring, the action type is unknown to the registry
	if err := fix.registry.Execute(context.Background(), act, req()); err == nil {
		t.Error("enroll_in_funnel should fail before the enroller is registered")
	}

	enroller := &fakeEnroller{}
	fix.registry.RegisterEnroller(enroller)

	if err := fix.registry.Execute(context.Background(), act, req()); err != nil {
		t.Fatal(err)
	}
	if len(enroller.enrolled) != 1 || enroller.enrolled[0] != "f1" {
		t.Errorf("enrolled = %v, want [f1]", enroller.enrolled)
	}
}

func TestExecuteRunScript(t *testing.T) {
	fix := newRegistryFixture()

	err := fix.registry.Execute(context.Background(), Action{
		Type:   TypeRunScript,
		Config: map[string]interface{}{"script": `out := subscriber_id`},
	}, req())
	if err != nil {
		t.Fatal(err)
	}

	err = fix.registry.Execute(context.Background(), Action{
		Type:   TypeRunScript,
		Config: map[string]interface{}{"script": `this is not tengo`},
	}, req())
	if err == nil {
		t.Error("invalid script should fail the action")
	}
}
