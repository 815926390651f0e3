package thread

import "github.com/SplitFi/go-threads/service/persist"

// Merge reconciles a freshly fetched top-level list with the one already held.
// Incoming membership and scalar fields win. Where an incoming node arrives without
// replies but the held copy had some loaded, the held replies are kept so a summary
// refresh does not throw away subtrees that were already paid for. Held pending
// comments that the server cannot know about yet stay at the front.
func Merge(previous, incoming []persist.Comment) []persist.Comment {
	return merge(previous, incoming, true)
}

// MergeReplies is Merge for the reply list of a single parent. Held pending replies
// stay at the end, matching the order replies are appended in.
func MergeReplies(previous, incoming []persist.Comment) []persist.Comment {
	return merge(previous, incoming, false)
}

func merge(previous, incoming []persist.Comment, topLevel bool) []persist.Comment {
	held := make(map[persist.CommentID]persist.Comment, len(previous))
	for _, c := range previous {
		held[c.ID] = c
	}

	seen := make(map[persist.CommentID]bool, len(incoming))
	merged := make([]persist.Comment, 0, len(incoming))
	for _, in := range incoming {
		seen[in.ID] = true
		if prev, ok := held[in.ID]; ok {
			in = mergeNode(prev, in)
		}
		merged = append(merged, in)
	}

	var pending []persist.Comment
	for _, c := range previous {
		if c.IsPending() && !seen[c.ID] {
			pending = append(pending, c)
		}
	}
	if len(pending) == 0 {
		return merged
	}
	if topLevel {
		return append(pending, merged...)
	}
	return append(merged, pending...)
}

func mergeNode(prev, in persist.Comment) persist.Comment {
	switch {
	case len(in.Replies) == 0 && len(prev.Replies) > 0:
		in.Replies = prev.Replies
	case len(in.Replies) > 0 && len(prev.Replies) > 0:
		in.Replies = merge(prev.Replies, in.Replies, false)
	}
	if in.ReplyCount < len(in.Replies) {
		in.ReplyCount = len(in.Replies)
	}
	return in
}

// mergeSubtree merges fetched replies into the parent's reply list within forest.
// A parent that is no longer present swallows the result.
func mergeSubtree(forest []persist.Comment, parentID persist.CommentID, fetched []persist.Comment) []persist.Comment {
	out, _ := updateNode(forest, parentID, func(parent persist.Comment) persist.Comment {
		parent.Replies = MergeReplies(parent.Replies, fetched)
		if parent.ReplyCount < len(parent.Replies) {
			parent.ReplyCount = len(parent.Replies)
		}
		return parent
	})
	return out
}
