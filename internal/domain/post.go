package domain

// Author identifies the account that wrote a resolved post.
type Author struct {
	Name       string
	ScreenName string
	ID         string
	AvatarURL  string
}

// ResolvedPost is the normalized result of resolving one candidate link
// through the embed API. It lives for the duration of one link's
// processing and is never persisted.
type ResolvedPost struct {
	ID     string
	Author Author
	Text   string

	Replies int64
	Reposts int64
	Likes   int64
	Views   int64

	// CreatedAt is the API's human-readable creation time; CreatedUnix is
	// the same instant as a Unix timestamp (seconds).
	CreatedAt   string
	CreatedUnix int64

	// Media is nil when the post has no attachments. Text-only posts are
	// a normal outcome, not an error.
	Media *MediaSet
}

// MediaSet holds the raw media inventory of a post as reported by the
// embed API. Selection of the single asset to republish happens in the
// usecase layer.
type MediaSet struct {
	Videos []Video
	Photos []Photo
	Mosaic *Mosaic
}

// Video is one video (or animated "gif") asset on a post.
type Video struct {
	URL          string
	ThumbnailURL string
	// Kind is the API's declared type, "video" or "gif".
	Kind string
	// Format is the MIME type of the container, e.g. "video/mp4".
	Format   string
	Width    int64
	Height   int64
	Duration float64 // seconds
}

// Photo is one still image asset on a post.
type Photo struct {
	URL    string
	Width  int64
	Height int64
}

// Mosaic is the API-side composite of a multi-image post.
type Mosaic struct {
	JPEGURL string
	WebPURL string
}
