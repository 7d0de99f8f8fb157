package archive

import (
	"encoding/json"
	"errors"
)

// MetadataRecord is the on-disk document written for every archived item.
// Field names follow the GraphQL node layout so records written by older
// tools stay readable. Every field is optional.
type MetadataRecord struct {
	Node *Node `json:"node"`
	// Archiver carries bookkeeping about the tool that wrote the record.
	Archiver *ArchiverInfo `json:"instaloader,omitempty"`
}

// ArchiverInfo identifies the writer of a record
type ArchiverInfo struct {
	Version   string `json:"version"`
	NodeType  string `json:"node_type"`
	WrittenBy string `json:"written_by,omitempty"`
}

// Node is one media item, or one carousel child
type Node struct {
	Typename             string       `json:"__typename"`
	ID                   string       `json:"id"`
	Shortcode            string       `json:"shortcode"`
	DisplayURL           string       `json:"display_url"`
	IsVideo              bool         `json:"is_video"`
	VideoURL             string       `json:"video_url,omitempty"`
	TakenAt              int64        `json:"taken_at_timestamp"`
	AccessibilityCaption string       `json:"accessibility_caption,omitempty"`
	Dimensions           *Dimensions  `json:"dimensions,omitempty"`
	Owner                *Owner       `json:"owner,omitempty"`
	Caption              CaptionEdges `json:"edge_media_to_caption"`
	Children             *ChildEdges  `json:"edge_sidecar_to_children,omitempty"`
	TaggedUsers          TagEdges     `json:"edge_media_to_tagged_user"`
	Location             *Location    `json:"location"`
	PreviewLikes         *Count       `json:"edge_media_preview_like,omitempty"`
	LikedBy              *Count       `json:"edge_liked_by,omitempty"`
	Comments             *Count       `json:"edge_media_to_comment,omitempty"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type Owner struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	FullName string `json:"full_name,omitempty"`
}

type Location struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Slug string `json:"slug,omitempty"`
}

type Count struct {
	Count int `json:"count"`
}

type CaptionEdges struct {
	Edges []CaptionEdge `json:"edges"`
}

type CaptionEdge struct {
	Node struct {
		Text string `json:"text"`
	} `json:"node"`
}

type ChildEdges struct {
	Edges []ChildEdge `json:"edges"`
}

type ChildEdge struct {
	Node Node `json:"node"`
}

type TagEdges struct {
	Edges []TagEdge `json:"edges"`
}

type TagEdge struct {
	Node Tag `json:"node"`
}

// Tag is a user tagged at a relative position on the media
type Tag struct {
	User struct {
		ID       string `json:"id"`
		Username string `json:"username"`
		FullName string `json:"full_name"`
	} `json:"user"`
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// CaptionText returns the first caption edge, or "".
func (n *Node) CaptionText() string {
	if n == nil || len(n.Caption.Edges) == 0 {
		return ""
	}
	return n.Caption.Edges[0].Node.Text
}

// ChildNodes returns carousel children in edge order
func (n *Node) ChildNodes() []Node {
	if n == nil || n.Children == nil {
		return nil
	}
	out := make([]Node, 0, len(n.Children.Edges))
	for _, e := range n.Children.Edges {
		out = append(out, e.Node)
	}
	return out
}

// LikeCount prefers the preview counter and falls back to edge_liked_by
func (n *Node) LikeCount() int {
	switch {
	case n == nil:
		return 0
	case n.PreviewLikes != nil:
		return n.PreviewLikes.Count
	case n.LikedBy != nil:
		return n.LikedBy.Count
	}
	return 0
}

func (n *Node) CommentCount() int {
	if n == nil || n.Comments == nil {
		return 0
	}
	return n.Comments.Count
}

// OwnerUsername returns the owner's username, or "".
func (n *Node) OwnerUsername() string {
	if n == nil || n.Owner == nil {
		return ""
	}
	return n.Owner.Username
}

// DecodeRecord parses data as a MetadataRecord. It returns false for
// anything that is not a JSON object with a "node" object. Fields whose
// JSON type does not match are left at their zero value rather than
// rejecting the whole record.
func DecodeRecord(data []byte) (*MetadataRecord, bool) {
	var rec MetadataRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return nil, false
		}
	}
	if rec.Node == nil {
		return nil, false
	}
	return &rec, true
}

// identifierOnly is the cheap shape decoded by ScanKnownIdentifiers
type identifierOnly struct {
	Node *struct {
		Shortcode string `json:"shortcode"`
	} `json:"node"`
}

func decodeIdentifier(data []byte) (string, bool) {
	var rec identifierOnly
	if err := json.Unmarshal(data, &rec); err != nil {
		var typeErr *json.UnmarshalTypeError
		if !errors.As(err, &typeErr) {
			return "", false
		}
	}
	if rec.Node == nil || rec.Node.Shortcode == "" {
		return "", false
	}
	return rec.Node.Shortcode, true
}

// Kind is the media kind of an item
type Kind string

const (
	KindPhoto    Kind = "photo"
	KindVideo    Kind = "video"
	KindCarousel Kind = "carousel"
)

// Typename maps the kind to the GraphQL type discriminator stored in records
func (k Kind) Typename() string {
	switch k {
	case KindVideo:
		return "GraphVideo"
	case KindCarousel:
		return "GraphSidecar"
	default:
		return "GraphImage"
	}
}

// KindOf classifies a node by its type discriminator, falling back to the
// video flag and the presence of carousel children for untyped records.
func KindOf(n *Node) Kind {
	if n == nil {
		return KindPhoto
	}
	switch n.Typename {
	case "GraphVideo", "XDTGraphVideo":
		return KindVideo
	case "GraphSidecar", "XDTGraphSidecar":
		return KindCarousel
	case "GraphImage", "XDTGraphImage":
		return KindPhoto
	}
	switch {
	case n.Children != nil && len(n.Children.Edges) > 0:
		return KindCarousel
	case n.IsVideo:
		return KindVideo
	}
	return KindPhoto
}
