package domain

import "time"

// AttachmentKind identifies the variant of a selected attachment.
type AttachmentKind string

const (
	AttachmentVideo     AttachmentKind = "video"
	AttachmentAnimated  AttachmentKind = "animated_image"
	AttachmentComposite AttachmentKind = "composite_image"
	AttachmentStill     AttachmentKind = "still_image"
)

// Attachment is the single media asset chosen for republishing, with the
// metadata needed to fetch and upload it. At most one Attachment is ever
// derived from a ResolvedPost.
type Attachment struct {
	Kind     AttachmentKind
	URL      string
	Filename string
	MIMEType string

	// Geometry and duration are zero when unknown (the homeserver treats
	// missing info fields as optional).
	Width    int64
	Height   int64
	Duration time.Duration

	// ThumbnailURL is set only for videos.
	ThumbnailURL string
}

// UploadJob is a fully-buffered attachment ready for a single upload
// attempt. It is consumed once and never retried.
type UploadJob struct {
	Kind     AttachmentKind
	Filename string
	MIMEType string
	Data     []byte

	Width    int64
	Height   int64
	Duration time.Duration

	// Thumbnail is optional JPEG thumbnail bytes.
	Thumbnail []byte
}
