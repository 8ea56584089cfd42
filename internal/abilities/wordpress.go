package abilities

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Стандартный набор способностей поверх REST API сайта.
// Write-классификация консервативна: все, что меняет состояние, — write.

func decodeResult(raw json.RawMessage) (map[string]interface{}, error) {
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		// Списочные эндпоинты отдают массив — заворачиваем
		var list []interface{}
		if err2 := json.Unmarshal(raw, &list); err2 == nil {
			return map[string]interface{}{"items": list, "count": len(list)}, nil
		}
		return nil, fmt.Errorf("abilities: unexpected response shape: %w", err)
	}
	return m, nil
}

// RegisterSiteAbilities наполняет реестр стандартным набором.
// conn обычно ProtectedConnector — способности об этом не знают.
func RegisterSiteAbilities(r *Registry, conn Connector) error {
	set := []*Ability{
		{
			Name:        "create_post",
			Description: "Create a new post (draft by default)",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				title, err := strParam(params, "title")
				if err != nil {
					return nil, err
				}
				content, err := strParam(params, "content")
				if err != nil {
					return nil, err
				}
				status, _ := params["status"].(string)
				if status == "" {
					status = "draft"
				}
				raw, err := conn.Call(ctx, http.MethodPost, "/wp/v2/posts", map[string]interface{}{
					"title":   title,
					"content": content,
					"status":  status,
				})
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "update_post",
			Description: "Update fields of an existing post",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				id, err := numParam(params, "post_id")
				if err != nil {
					return nil, err
				}
				patch := map[string]interface{}{}
				for _, field := range []string{"title", "content", "status", "excerpt"} {
					if v, ok := params[field]; ok {
						patch[field] = v
					}
				}
				if len(patch) == 0 {
					return nil, badParam("fields")
				}
				raw, err := conn.Call(ctx, http.MethodPost, fmt.Sprintf("/wp/v2/posts/%d", id), patch)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "trash_post",
			Description: "Move a post to trash",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				id, err := numParam(params, "post_id")
				if err != nil {
					return nil, err
				}
				raw, err := conn.Call(ctx, http.MethodDelete, fmt.Sprintf("/wp/v2/posts/%d", id), nil)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "get_post",
			Description: "Fetch a single post by id",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				id, err := numParam(params, "post_id")
				if err != nil {
					return nil, err
				}
				raw, err := conn.Call(ctx, http.MethodGet, fmt.Sprintf("/wp/v2/posts/%d", id), nil)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "list_posts",
			Description: "List recent posts, optionally filtered by status",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				path := "/wp/v2/posts?per_page=20"
				if status, ok := params["status"].(string); ok && status != "" {
					path += "&status=" + status
				}
				raw, err := conn.Call(ctx, http.MethodGet, path, nil)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "approve_comment",
			Description: "Approve a pending comment",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				return moderateComment(ctx, conn, params, "approved")
			},
		},
		{
			Name:        "spam_comment",
			Description: "Mark a comment as spam",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				return moderateComment(ctx, conn, params, "spam")
			},
		},
		{
			Name:        "reply_comment",
			Description: "Post a reply to an existing comment",
			Write:       true,
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				parent, err := numParam(params, "comment_id")
				if err != nil {
					return nil, err
				}
				content, err := strParam(params, "content")
				if err != nil {
					return nil, err
				}
				post, err := numParam(params, "post_id")
				if err != nil {
					return nil, err
				}
				raw, err := conn.Call(ctx, http.MethodPost, "/wp/v2/comments", map[string]interface{}{
					"parent":  parent,
					"post":    post,
					"content": content,
				})
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "list_comments",
			Description: "List comments, optionally filtered by status",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				path := "/wp/v2/comments?per_page=20"
				if status, ok := params["status"].(string); ok && status != "" {
					path += "&status=" + status
				}
				raw, err := conn.Call(ctx, http.MethodGet, path, nil)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
		{
			Name:        "site_health",
			Description: "Basic reachability and identity check of the site API",
			Handler: func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
				raw, err := conn.Call(ctx, http.MethodGet, "/wp/v2/users/me", nil)
				if err != nil {
					return nil, err
				}
				return decodeResult(raw)
			},
		},
	}

	for _, a := range set {
		if err := r.Register(a); err != nil {
			return err
		}
	}
	return nil
}

func moderateComment(ctx context.Context, conn Connector, params map[string]interface{}, status string) (map[string]interface{}, error) {
	id, err := numParam(params, "comment_id")
	if err != nil {
		return nil, err
	}
	raw, err := conn.Call(ctx, http.MethodPost, fmt.Sprintf("/wp/v2/comments/%d", id), map[string]interface{}{
		"status": status,
	})
	if err != nil {
		return nil, err
	}
	return decodeResult(raw)
}
