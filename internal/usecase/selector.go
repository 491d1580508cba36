package usecase

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"fxbot/internal/domain"
)

// SelectAttachment picks at most one media attachment for a resolved
// post. Preference order: the first video, then the multi-photo
// composite, then the first photo. Posts without media yield nil.
//
// Animated posts arrive from the embed API as silent videos; those are
// rewritten onto gifHost with a .gif extension so clients render them
// as looping animations rather than video players.
func SelectAttachment(post *domain.ResolvedPost, gifHost string) *domain.Attachment {
	if post == nil || post.Media == nil {
		return nil
	}
	media := post.Media

	if len(media.Videos) > 0 {
		v := media.Videos[0]
		if v.Kind == "gif" {
			return animatedAttachment(v, gifHost)
		}
		return &domain.Attachment{
			Kind:         domain.AttachmentVideo,
			URL:          v.URL,
			Filename:     fileNameFromURL(v.URL, ".mp4"),
			MIMEType:     videoMIME(v.Format),
			Width:        v.Width,
			Height:       v.Height,
			Duration:     videoDuration(v),
			ThumbnailURL: v.ThumbnailURL,
		}
	}

	if media.Mosaic != nil && media.Mosaic.WebPURL != "" {
		return &domain.Attachment{
			Kind:     domain.AttachmentComposite,
			URL:      media.Mosaic.WebPURL,
			Filename: post.ID + "_mosaic.webp",
			MIMEType: "image/webp",
		}
	}

	if len(media.Photos) > 0 {
		p := media.Photos[0]
		return &domain.Attachment{
			Kind:     domain.AttachmentStill,
			URL:      p.URL,
			Filename: fileNameFromURL(p.URL, ".jpg"),
			MIMEType: photoMIME(p.URL),
			Width:    p.Width,
			Height:   p.Height,
		}
	}

	return nil
}

// animatedAttachment rewrites a gif-kind video onto the animation
// mirror host with a .gif extension.
func animatedAttachment(v domain.Video, gifHost string) *domain.Attachment {
	target := v.URL
	if u, err := url.Parse(v.URL); err == nil {
		u.Host = gifHost
		u.Path = strings.TrimSuffix(u.Path, ".mp4") + ".gif"
		target = u.String()
	}
	return &domain.Attachment{
		Kind:         domain.AttachmentAnimated,
		URL:          target,
		Filename:     fileNameFromURL(target, ".gif"),
		MIMEType:     "image/gif",
		Width:        v.Width,
		Height:       v.Height,
		Duration:     videoDuration(v),
		ThumbnailURL: v.ThumbnailURL,
	}
}

// videoDuration converts the API's fractional seconds.
func videoDuration(v domain.Video) time.Duration {
	return time.Duration(v.Duration * float64(time.Second))
}

func fileNameFromURL(raw, fallbackExt string) string {
	u, err := url.Parse(raw)
	if err != nil || path.Base(u.Path) == "/" || path.Base(u.Path) == "." {
		return "media" + fallbackExt
	}
	return path.Base(u.Path)
}

func videoMIME(format string) string {
	if format != "" {
		return format
	}
	return "video/mp4"
}

// photoMIME derives an image MIME type from the URL extension. The
// embed API serves photos as jpg or png; anything unrecognized falls
// back to jpeg.
func photoMIME(raw string) string {
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(raw)), ".")
	switch ext {
	case "", "jpg", "jpeg":
		return "image/jpeg"
	default:
		return fmt.Sprintf("image/%s", ext)
	}
}
