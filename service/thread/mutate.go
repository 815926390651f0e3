package thread

import (
	"time"

	"github.com/SplitFi/go-threads/service/persist"
)

// The mutators below never modify their input. A changed node is copied, and so is
// every slice on the path from the root to it; sibling subtrees are shared with the
// input. Callers must treat a forest as read-only for the same reason.

// AppendReply adds reply under parentID and bumps the parent's ReplyCount. A nil
// parentID puts reply at the front of the top-level list (newest first); nested
// replies go at the end (oldest first). An unknown parent leaves the forest as is.
func AppendReply(forest []persist.Comment, parentID *persist.CommentID, reply persist.Comment) []persist.Comment {
	if parentID == nil {
		out := make([]persist.Comment, 0, len(forest)+1)
		out = append(out, reply)
		return append(out, forest...)
	}

	out, _ := updateNode(forest, *parentID, func(parent persist.Comment) persist.Comment {
		replies := make([]persist.Comment, 0, len(parent.Replies)+1)
		replies = append(replies, parent.Replies...)
		parent.Replies = append(replies, reply)
		parent.ReplyCount++
		if parent.ReplyCount < len(parent.Replies) {
			parent.ReplyCount = len(parent.Replies)
		}
		return parent
	})
	return out
}

// ToggleLike flips LikedByCurrentUser and moves LikeCount by one in the same direction.
func ToggleLike(forest []persist.Comment, id persist.CommentID) []persist.Comment {
	out, _ := updateNode(forest, id, func(c persist.Comment) persist.Comment {
		if c.LikedByCurrentUser {
			c.LikedByCurrentUser = false
			if c.LikeCount > 0 {
				c.LikeCount--
			}
		} else {
			c.LikedByCurrentUser = true
			c.LikeCount++
		}
		return c
	})
	return out
}

// RemoveNode deletes every node with the given id together with its subtree. The
// direct parent's ReplyCount drops by the number of its children actually removed,
// so descendants of a removed node are not counted against the grandparent.
func RemoveNode(forest []persist.Comment, id persist.CommentID) []persist.Comment {
	out, _ := removeNode(forest, id)
	return out
}

// ReplaceContent sets the content of the node and stamps UpdatedAt with at.
func ReplaceContent(forest []persist.Comment, id persist.CommentID, content string, at time.Time) []persist.Comment {
	out, _ := updateNode(forest, id, func(c persist.Comment) persist.Comment {
		c.Content = content
		c.UpdatedAt = at
		return c
	})
	return out
}

// ReplaceNode swaps the node with replacement in the same position. The
// replacement keeps its own fields; only its place in the tree is inherited.
func ReplaceNode(forest []persist.Comment, id persist.CommentID, replacement persist.Comment) []persist.Comment {
	out, _ := updateNode(forest, id, func(persist.Comment) persist.Comment {
		return replacement
	})
	return out
}

// FindNode returns the node with the given id, searching depth first.
func FindNode(forest []persist.Comment, id persist.CommentID) (persist.Comment, bool) {
	var found persist.Comment
	var ok bool
	Walk(forest, func(c persist.Comment) bool {
		if c.ID == id {
			found, ok = c, true
			return false
		}
		return true
	})
	return found, ok
}

// Walk visits every node once, depth first, parents before children. It stops
// early when fn returns false.
func Walk(forest []persist.Comment, fn func(c persist.Comment) bool) {
	stack := make([]persist.Comment, 0, len(forest))
	for i := len(forest) - 1; i >= 0; i-- {
		stack = append(stack, forest[i])
	}
	for len(stack) > 0 {
		c := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if !fn(c) {
			return
		}
		for i := len(c.Replies) - 1; i >= 0; i-- {
			stack = append(stack, c.Replies[i])
		}
	}
}

// location is where a node sits in a forest: its parent (nil for top level) and
// its index among its siblings.
type location struct {
	parentID *persist.CommentID
	index    int
}

func locate(forest []persist.Comment, id persist.CommentID) (location, bool) {
	for i, c := range forest {
		if c.ID == id {
			return location{index: i}, true
		}
	}
	var loc location
	var found bool
	Walk(forest, func(c persist.Comment) bool {
		for i, r := range c.Replies {
			if r.ID == id {
				loc = location{parentID: persist.CommentIDPtr(c.ID), index: i}
				found = true
				return false
			}
		}
		return true
	})
	return loc, found
}

// insertAt puts node back at loc, clamping the index to the current sibling list,
// and restores the parent's ReplyCount. It undoes a RemoveNode.
func insertAt(forest []persist.Comment, loc location, node persist.Comment) []persist.Comment {
	insert := func(siblings []persist.Comment) []persist.Comment {
		i := loc.index
		if i > len(siblings) {
			i = len(siblings)
		}
		out := make([]persist.Comment, 0, len(siblings)+1)
		out = append(out, siblings[:i]...)
		out = append(out, node)
		return append(out, siblings[i:]...)
	}

	if loc.parentID == nil {
		return insert(forest)
	}
	out, _ := updateNode(forest, *loc.parentID, func(parent persist.Comment) persist.Comment {
		parent.Replies = insert(parent.Replies)
		parent.ReplyCount++
		if parent.ReplyCount < len(parent.Replies) {
			parent.ReplyCount = len(parent.Replies)
		}
		return parent
	})
	return out
}

// updateNode applies fn to the first node with the given id and rebuilds the path
// above it. It reports whether the node was found; if not, forest is returned as is.
func updateNode(forest []persist.Comment, id persist.CommentID, fn func(persist.Comment) persist.Comment) ([]persist.Comment, bool) {
	for i, c := range forest {
		if c.ID == id {
			out := copyForest(forest)
			out[i] = fn(c)
			return out, true
		}
		if len(c.Replies) == 0 {
			continue
		}
		if replies, ok := updateNode(c.Replies, id, fn); ok {
			out := copyForest(forest)
			c.Replies = replies
			out[i] = c
			return out, true
		}
	}
	return forest, false
}

// removeNode filters id out of forest and out of every subtree. It returns the
// number of nodes removed at this level so the caller can adjust its own count.
func removeNode(forest []persist.Comment, id persist.CommentID) ([]persist.Comment, int) {
	var out []persist.Comment
	removed := 0
	changed := false

	for i, c := range forest {
		if c.ID == id {
			if !changed {
				out = make([]persist.Comment, 0, len(forest))
				out = append(out, forest[:i]...)
				changed = true
			}
			removed++
			continue
		}

		if len(c.Replies) > 0 {
			replies, n := removeNode(c.Replies, id)
			if n > 0 || !sameSlice(replies, c.Replies) {
				c.Replies = replies
				c.ReplyCount -= n
				if c.ReplyCount < len(c.Replies) {
					c.ReplyCount = len(c.Replies)
				}
				if !changed {
					out = make([]persist.Comment, 0, len(forest))
					out = append(out, forest[:i]...)
					changed = true
				}
			}
		}

		if changed {
			out = append(out, c)
		}
	}

	if !changed {
		return forest, 0
	}
	return out, removed
}

func copyForest(forest []persist.Comment) []persist.Comment {
	out := make([]persist.Comment, len(forest))
	copy(out, forest)
	return out
}

// sameSlice reports whether a and b share the same backing array and length,
// i.e. removeNode returned its input untouched.
func sameSlice(a, b []persist.Comment) bool {
	if len(a) != len(b) {
		return false
	}
	return len(a) == 0 || &a[0] == &b[0]
}
