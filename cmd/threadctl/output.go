package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v2"

	"github.com/SplitFi/go-threads/service/persist"
)

// visibility decides which replies of a collapsed comment are shown. *thread.Engine
// satisfies it.
type visibility interface {
	IsExpanded(id persist.CommentID) bool
	Fresh(parentID persist.CommentID) []persist.CommentID
}

type commentOutput struct {
	ID      int64           `json:"id" yaml:"id"`
	Pending bool            `json:"pending,omitempty" yaml:"pending,omitempty"`
	Author  string          `json:"author" yaml:"author"`
	Content string          `json:"content" yaml:"content"`
	Edited  bool            `json:"edited,omitempty" yaml:"edited,omitempty"`
	Likes   int             `json:"likes" yaml:"likes"`
	Liked   bool            `json:"liked,omitempty" yaml:"liked,omitempty"`
	Replies int             `json:"replies" yaml:"replies"`
	Fresh   bool            `json:"fresh,omitempty" yaml:"fresh,omitempty"`
	Shown   []commentOutput `json:"shown,omitempty" yaml:"shown,omitempty"`
}

// printComments writes comments in format. With a visibility, collapsed comments
// only show their fresh replies; without one every loaded reply is shown.
func printComments(w io.Writer, format string, comments []persist.Comment, v visibility) error {
	out := toOutput(comments, v, nil)

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	case "yaml":
		b, err := yaml.Marshal(out)
		if err != nil {
			return err
		}
		_, err = w.Write(b)
		return err
	case "text", "":
		writeText(w, out, 0)
		return nil
	default:
		return fmt.Errorf("unknown output format %q", format)
	}
}

func toOutput(comments []persist.Comment, v visibility, fresh []persist.CommentID) []commentOutput {
	out := make([]commentOutput, 0, len(comments))
	for _, c := range comments {
		o := commentOutput{
			ID:      c.ID.Int64(),
			Pending: c.ID.IsPending(),
			Author:  c.Author.Username,
			Content: c.Content,
			Edited:  c.IsEdited(),
			Likes:   c.LikeCount,
			Liked:   c.LikedByCurrentUser,
			Replies: c.ReplyCount,
			Fresh:   containsID(fresh, c.ID),
		}

		replies := c.Replies
		var childFresh []persist.CommentID
		if v != nil && !v.IsExpanded(c.ID) {
			childFresh = v.Fresh(c.ID)
			replies = onlyIDs(replies, childFresh)
		}
		if len(replies) > 0 {
			o.Shown = toOutput(replies, v, childFresh)
		}
		out = append(out, o)
	}
	return out
}

func writeText(w io.Writer, comments []commentOutput, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, c := range comments {
		var tags []string
		if c.Pending {
			tags = append(tags, "pending")
		}
		if c.Fresh {
			tags = append(tags, "new")
		}
		if c.Edited {
			tags = append(tags, "edited")
		}
		if c.Liked {
			tags = append(tags, "liked")
		}
		suffix := ""
		if len(tags) > 0 {
			suffix = " [" + strings.Join(tags, ",") + "]"
		}

		fmt.Fprintf(w, "%s#%d @%s: %s (%d likes, %d replies)%s\n", indent, c.ID, c.Author, c.Content, c.Likes, c.Replies, suffix)
		writeText(w, c.Shown, depth+1)
	}
}

func onlyIDs(comments []persist.Comment, ids []persist.CommentID) []persist.Comment {
	var out []persist.Comment
	for _, c := range comments {
		if containsID(ids, c.ID) {
			out = append(out, c)
		}
	}
	return out
}

func containsID(ids []persist.CommentID, id persist.CommentID) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}
	return false
}
