// Package bluebubbles bridges iMessage through a BlueBubbles server. Reads
// and sends go over the server's REST API; the gateway mediates which chats
// an agent may see and which sends need approval.
package bluebubbles

import (
	"context"
	"fmt"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// Plugin implements plugin.Plugin on top of a BlueBubbles client.
type Plugin struct {
	client   *Client
	manifest *manifest.Plugin
}

var _ plugin.Plugin = (*Plugin)(nil)

// New returns the plugin. A nil client falls back to environment
// configuration.
func New(client *Client) *Plugin {
	if client == nil {
		client = NewClientFromEnv()
	}
	return &Plugin{client: client, manifest: newManifest()}
}

func newManifest() *manifest.Plugin {
	emits := []string{"principal", "counterparty_domain", "thread_id"}
	return &manifest.Plugin{
		ID:          "imessage",
		Name:        "iMessage (BlueBubbles)",
		Version:     "0.1.0",
		RuntimeMode: manifest.RuntimeInProcess,
		Resources: []manifest.Resource{
			{
				Name:         "threads",
				CapabilityID: "imessage.threads.read",
				AllowedViews: []string{manifest.ViewHeaders, manifest.ViewBody},
			},
			{
				Name:         "messages",
				CapabilityID: "imessage.messages.read",
				AllowedViews: []string{manifest.ViewHeaders, manifest.ViewBody},
			},
		},
		RequiredSecrets: []string{"bluebubbles_password"},
		RequiredScopes:  []string{"bluebubbles.messages.read", "bluebubbles.messages.send"},
		DefaultPolicy:   map[string]any{"max_limit": 100},
		Actions: []manifest.Action{
			{
				Name:                "send",
				CapabilityID:        "imessage.message.send",
				ResourceType:        "message",
				RiskTier:            manifest.TierTransactional,
				RoutePattern:        "/:send/{phase}",
				SupportsPropose:     true,
				RequiresIdempotency: true,
				Mutating:            true,
				EmitsAttributes:     emits,
			},
			{
				Name:                "send",
				CapabilityID:        "imessage.thread.send",
				Resource:            "threads",
				ResourceType:        "message",
				RiskTier:            manifest.TierTransactional,
				RoutePattern:        "/threads/{resource_id}:send/{phase}",
				SupportsPropose:     true,
				RequiresIdempotency: true,
				Mutating:            true,
				EmitsAttributes:     emits,
			},
			{
				Name:                "reply",
				CapabilityID:        "imessage.message.reply",
				Resource:            "messages",
				ResourceType:        "message",
				RiskTier:            manifest.TierTransactional,
				RoutePattern:        "/messages/{resource_id}:reply/{phase}",
				SupportsPropose:     true,
				RequiresIdempotency: true,
				Mutating:            true,
				EmitsAttributes:     emits,
			},
		},
	}
}

// Manifest implements plugin.Plugin.
func (p *Plugin) Manifest() *manifest.Plugin { return p.manifest }

// ListResource implements plugin.Plugin.
func (p *Plugin) ListResource(ctx context.Context, resource string, query plugin.Query) (*plugin.ReadResult, error) {
	switch resource {
	case "threads":
		page, err := p.client.ListThreads(ctx, query)
		if err != nil {
			return nil, err
		}
		return collectionResult(page, "threads"), nil
	case "messages":
		page, err := p.client.ListMessages(ctx, query)
		if err != nil {
			return nil, err
		}
		return collectionResult(page, "messages"), nil
	default:
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}
}

// GetResource implements plugin.Plugin.
func (p *Plugin) GetResource(ctx context.Context, resource, resourceID, view string, query plugin.Query) (*plugin.ReadResult, error) {
	switch resource {
	case "threads":
		item, err := p.client.GetThread(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		principal := bestPrincipal(item)
		return &plugin.ReadResult{
			Data: item,
			PolicyItems: []plugin.PolicyItem{{
				DataRef: "self",
				Attrs: map[string]any{
					"resource_type":       "thread",
					"principal":           principal,
					"counterparty_domain": domainFor(principal),
					"thread_id":           item["id"],
				},
			}},
		}, nil
	case "messages":
		item, err := p.client.GetMessage(ctx, resourceID)
		if err != nil {
			return nil, err
		}
		principal := stringified(orEmpty(item["sender"]))
		return &plugin.ReadResult{
			Data: item,
			PolicyItems: []plugin.PolicyItem{{
				DataRef: "self",
				Attrs: map[string]any{
					"resource_type":       "message",
					"principal":           principal,
					"counterparty_domain": domainFor(principal),
					"thread_id":           item["thread_id"],
				},
			}},
		}, nil
	default:
		return nil, apierr.NotFoundf("resource '%s' not found", resource)
	}
}

// RunAction implements plugin.Plugin.
func (p *Plugin) RunAction(ctx context.Context, actx plugin.ActionContext, args map[string]any) (*plugin.ActionResult, error) {
	text, _ := args["text"].(string)
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, apierr.Validation("args.text is required")
	}

	switch {
	case actx.Action.Name == "send" && actx.Resource == "":
		chatGUID, _ := args["chat_guid"].(string)
		chatGUID = strings.TrimSpace(chatGUID)
		if chatGUID == "" {
			return nil, apierr.Validation("global send requires args.chat_guid")
		}
		return p.sendToThread(ctx, chatGUID, text, actx.Phase)
	case actx.Action.Name == "send" && actx.Resource == "threads":
		if actx.ResourceID == "" {
			return nil, apierr.Validation("thread send requires resource id")
		}
		return p.sendToThread(ctx, actx.ResourceID, text, actx.Phase)
	case actx.Action.Name == "reply" && actx.Resource == "messages":
		if actx.ResourceID == "" {
			return nil, apierr.Validation("reply requires resource id")
		}
		return p.replyToMessage(ctx, actx.ResourceID, text, actx.Phase)
	default:
		return nil, apierr.NotFoundf("action '%s' not implemented", actx.Action.Name)
	}
}

func collectionResult(page *Page, key string) *plugin.ReadResult {
	resourceType := strings.TrimSuffix(key, "s")
	items := make([]any, 0, len(page.Items))
	for _, item := range page.Items {
		items = append(items, item)
	}
	policy := make([]plugin.PolicyItem, 0, len(page.RawItems))
	for idx, raw := range page.RawItems {
		principal := bestPrincipal(raw)
		policy = append(policy, plugin.PolicyItem{
			DataRef: fmt.Sprintf("items[%d]", idx),
			Attrs: map[string]any{
				"resource_type":       resourceType,
				"principal":           principal,
				"counterparty_domain": domainFor(principal),
				"thread_id":           valueAt(raw, "guid", "chatGuid"),
			},
		})
	}
	return &plugin.ReadResult{
		Data:        map[string]any{"items": items, "next_cursor": page.NextCursor},
		PolicyItems: policy,
	}
}

func (p *Plugin) sendToThread(ctx context.Context, chatGUID, text, phase string) (*plugin.ActionResult, error) {
	result := map[string]any{
		"chat_guid": chatGUID,
		"text":      text,
	}
	if phase == plugin.PhaseExecute {
		delivery, err := p.client.SendText(ctx, chatGUID, text)
		if err != nil {
			return nil, err
		}
		result["delivery"] = delivery
	}
	return &plugin.ActionResult{
		Status:         plugin.StatusSuccess,
		Summary:        "Send iMessage to thread " + chatGUID,
		Result:         result,
		ProposedEffect: result,
		PolicyItems: []plugin.PolicyItem{{
			DataRef: "result",
			Attrs: map[string]any{
				"principal":           chatGUID,
				"counterparty_domain": domainFor(chatGUID),
				"thread_id":           chatGUID,
			},
		}},
	}, nil
}

func (p *Plugin) replyToMessage(ctx context.Context, messageGUID, text, phase string) (*plugin.ActionResult, error) {
	result := map[string]any{
		"message_guid": messageGUID,
		"text":         text,
	}
	if phase == plugin.PhaseExecute {
		delivery, err := p.client.Reply(ctx, messageGUID, text)
		if err != nil {
			return nil, err
		}
		result["delivery"] = delivery
	}
	return &plugin.ActionResult{
		Status:         plugin.StatusSuccess,
		Summary:        "Reply to iMessage " + messageGUID,
		Result:         result,
		ProposedEffect: result,
		PolicyItems: []plugin.PolicyItem{{
			DataRef: "result",
			Attrs: map[string]any{
				"principal":           messageGUID,
				"counterparty_domain": domainFor(messageGUID),
			},
		}},
	}, nil
}

// bestPrincipal picks the counterparty identity out of a raw server record:
// the first participant if there is one, otherwise the first plausible
// identifier field.
func bestPrincipal(item map[string]any) string {
	if participants, ok := item["participants"].([]any); ok && len(participants) > 0 {
		switch first := participants[0].(type) {
		case map[string]any:
			if s, ok := valueAt(first, "address", "identifier").(string); ok {
				return s
			}
		case string:
			return first
		}
	}
	for _, key := range []string{"sender", "handle", "address", "chatGuid", "guid"} {
		if s, ok := item[key].(string); ok && s != "" {
			return s
		}
	}
	return ""
}

// domainFor returns nil for phone-number style identities that carry no "@".
func domainFor(value string) any {
	if !strings.Contains(value, "@") {
		return nil
	}
	return strings.ToLower(strings.SplitN(value, "@", 2)[1])
}
