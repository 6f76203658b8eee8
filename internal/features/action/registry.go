package action

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"go-automation/internal/features/crmtask"
	"go-automation/internal/features/email"
	"go-automation/internal/features/subscriber"
	"go-automation/internal/features/webhook"

	"github.com/d5/tengo/v2"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Executor dispatches a tagged action to its registered function. Unknown
// tags fail closed instead of silently no-op-ing.
type Executor interface {
	Execute(ctx context.Context, act Action, req Request) error
}

// Func is one executor implementation.
type Func func(ctx context.Context, act Action, req Request) error

// FunnelEnroller is implemented by the funnel control service; it is
// registered after construction to avoid a dependency cycle.
type FunnelEnroller interface {
	EnrollSubscriber(ctx context.Context, accountID, funnelID, subscriberID string) error
}

// Registry maps action tags to executor functions.
type Registry struct {
	mu    sync.RWMutex
	funcs map[Type]Func

	subscribers subscriber.Service
	emails      email.EmailService
	webhooks    webhook.Service
	tasks       crmtask.TaskRepository
	logger      *zap.Logger
}

func NewRegistry(
	subscribers subscriber.Service,
	emails email.EmailService,
	webhooks webhook.Service,
	tasks crmtask.TaskRepository,
	logger *zap.Logger,
) *Registry {
	r := &Registry{
		funcs:       make(map[Type]Func),
		subscribers: subscribers,
		emails:      emails,
		webhooks:    webhooks,
		tasks:       tasks,
		logger:      logger,
	}

	r.Register(TypeSendEmail, r.executeSendEmail)
	r.Register(TypeSendSMS, r.executeSendSMS)
	r.Register(TypeAddTag, r.executeAddTag)
	r.Register(TypeRemoveTag, r.executeRemoveTag)
	r.Register(TypeAddToList, r.executeAddToList)
	r.Register(TypeRemoveFromList, r.executeRemoveFromList)
	r.Register(TypeCreateCRMTask, r.executeCreateTask)
	r.Register(TypeCallWebhook, r.executeWebhook)
	r.Register(TypeRunScript, r.executeRunScript)

	return r
}

// Register binds a tag to an executor, replacing any previous binding.
func (r *Registry) Register(t Type, f Func) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[t] = f
}

// RegisterEnroller wires the enroll_in_funnel action once the funnel control
// service exists.
func (r *Registry) RegisterEnroller(enroller FunnelEnroller) {
	r.Register(TypeEnrollInFunnel, func(ctx context.Context, act Action, req Request) error {
		funnelID, _ := act.Config["funnel_id"].(string)
		if funnelID == "" {
			return fmt.Errorf("funnel_id is required for enroll_in_funnel")
		}
		return enroller.EnrollSubscriber(ctx, req.AccountID, funnelID, req.SubscriberID)
	})
}

func (r *Registry) Execute(ctx context.Context, act Action, req Request) error {
	r.mu.RLock()
	f, ok := r.funcs[act.Type]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unsupported action type: %s", act.Type)
	}
	return f(ctx, act, req)
}

func (r *Registry) executeSendEmail(ctx context.Context, act Action, req Request) error {
	sub, err := r.subscribers.Get(ctx, req.SubscriberID)
	if err != nil {
		return err
	}

	// A message_id references a stored template; inline subject/body
	// otherwise
	if messageID, _ := act.Config["message_id"].(string); messageID != "" {
		return r.emails.SendMessage(ctx, messageID, sub.Email, req.DedupKey)
	}

	subject, _ := act.Config["subject"].(string)
	body, _ := act.Config["body"].(string)
	if subject == "" {
		return fmt.Errorf("email subject is required")
	}

	subject = replacePlaceholders(subject, req.Payload)
	body = replacePlaceholders(body, req.Payload)

	return r.emails.Send(ctx, email.Email{
		To:       []string{sub.Email},
		Subject:  subject,
		HtmlBody: body,
		DedupKey: req.DedupKey,
	})
}

func (r *Registry) executeSendSMS(ctx context.Context, act Action, req Request) error {
	message, _ := act.Config["message"].(string)
	if message == "" {
		return fmt.Errorf("SMS message is required")
	}

	sub, err := r.subscribers.Get(ctx, req.SubscriberID)
	if err != nil {
		return err
	}
	if sub.Phone == "" {
		return fmt.Errorf("subscriber %s has no phone number", req.SubscriberID)
	}

	message = replacePlaceholders(message, req.Payload)
	r.logger.Info("sending SMS",
		zap.String("phone", sub.Phone),
		zap.String("message", message))

	return nil
}

func (r *Registry) executeAddTag(ctx context.Context, act Action, req Request) error {
	tag, _ := act.Config["tag"].(string)
	if tag == "" {
		return fmt.Errorf("tag is required for add_tag")
	}
	return r.subscribers.AddTag(ctx, req.SubscriberID, tag)
}

func (r *Registry) executeRemoveTag(ctx context.Context, act Action, req Request) error {
	tag, _ := act.Config["tag"].(string)
	if tag == "" {
		return fmt.Errorf("tag is required for remove_tag")
	}
	return r.subscribers.RemoveTag(ctx, req.SubscriberID, tag)
}

func (r *Registry) executeAddToList(ctx context.Context, act Action, req Request) error {
	listID := stringConfig(act.Config, "list_id")
	if listID == "" {
		return fmt.Errorf("list_id is required for add_to_list")
	}
	return r.subscribers.AddToList(ctx, req.SubscriberID, listID)
}

func (r *Registry) executeRemoveFromList(ctx context.Context, act Action, req Request) error {
	listID := stringConfig(act.Config, "list_id")
	if listID == "" {
		return fmt.Errorf("list_id is required for remove_from_list")
	}
	return r.subscribers.RemoveFromList(ctx, req.SubscriberID, listID)
}

func (r *Registry) executeCreateTask(ctx context.Context, act Action, req Request) error {
	subject, _ := act.Config["subject"].(string)
	if subject == "" {
		return fmt.Errorf("task subject is required")
	}
	description, _ := act.Config["description"].(string)
	assignedTo, _ := act.Config["assigned_to"].(string)

	task := &crmtask.Task{
		SubscriberID: req.SubscriberID,
		Subject:      replacePlaceholders(subject, req.Payload),
		Description:  replacePlaceholders(description, req.Payload),
		AssignedTo:   assignedTo,
		DedupKey:     req.DedupKey,
	}
	if oid, err := primitive.ObjectIDFromHex(req.AccountID); err == nil {
		task.AccountID = oid
	}
	if due, _ := act.Config["due_date"].(string); due != "" {
		if t, err := time.Parse(time.RFC3339, due); err == nil {
			task.DueDate = &t
		}
	}

	if err := r.tasks.Create(ctx, task); err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *Registry) executeWebhook(ctx context.Context, act Action, req Request) error {
	url, _ := act.Config["url"].(string)
	if url == "" {
		return fmt.Errorf("webhook URL is required")
	}
	method, _ := act.Config["method"].(string)
	secret, _ := act.Config["secret"].(string)

	headers := map[string]string{}
	if raw, ok := act.Config["headers"].(map[string]interface{}); ok {
		for k, v := range raw {
			headers[k] = fmt.Sprintf("%v", v)
		}
	}

	return r.webhooks.Deliver(ctx, webhook.Delivery{
		URL:     url,
		Method:  method,
		Secret:  secret,
		Headers: headers,
		Event:   "automation.action",
		Payload: map[string]interface{}{
			"subscriber_id": req.SubscriberID,
			"account_id":    req.AccountID,
			"data":          req.Payload,
			"timestamp":     time.Now().Format(time.RFC3339),
		},
		DedupKey: req.DedupKey,
	})
}

func (r *Registry) executeRunScript(ctx context.Context, act Action, req Request) error {
	scriptContent, _ := act.Config["script"].(string)
	if scriptContent == "" {
		return fmt.Errorf("script content is required")
	}

	script := tengo.NewScript([]byte(scriptContent))
	script.Add("subscriber_id", req.SubscriberID)
	script.Add("payload", req.Payload)

	compiled, err := script.Compile()
	if err != nil {
		return fmt.Errorf("failed to compile script: %w", err)
	}
	if err := compiled.RunContext(ctx); err != nil {
		return fmt.Errorf("failed to run script: %w", err)
	}
	return nil
}

// stringConfig tolerates numeric list ids coming from JSON.
func stringConfig(config map[string]interface{}, key string) string {
	v, ok := config[key]
	if !ok || v == nil {
		return ""
	}
	switch n := v.(type) {
	case string:
		return n
	case float64:
		return fmt.Sprintf("%.0f", n)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func replacePlaceholders(text string, payload map[string]interface{}) string {
	for key, value := range payload {
		placeholder := fmt.Sprintf("{{%s}}", key)
		text = strings.ReplaceAll(text, placeholder, fmt.Sprintf("%v", value))
	}
	return text
}
