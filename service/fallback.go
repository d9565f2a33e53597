package service

import (
	"hash/fnv"
	"strconv"
	"strings"
)

const fallbackPrefix = "fallback_"

var DefaultFallbackVideos = []string{
	"https://d-id-public-bucket.s3.us-west-2.amazonaws.com/sample-videos/anna-explaining.mp4",
	"https://d-id-public-bucket.s3.us-west-2.amazonaws.com/sample-videos/anna-presenting.mp4",
	"https://d-id-public-bucket.s3.us-west-2.amazonaws.com/sample-videos/anna-interview.mp4",
	"https://d-id-public-bucket.s3.us-west-2.amazonaws.com/sample-videos/anna-discussion.mp4",
	"https://d-id-public-bucket.s3.us-west-2.amazonaws.com/sample-videos/anna-meeting.mp4",
}

// FallbackIndex is stable across processes and restarts for the same text.
func FallbackIndex(text string, n int) int {
	if n <= 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return int(h.Sum32() % uint32(n))
}

func fallbackRef(i int) string {
	return fallbackPrefix + strconv.Itoa(i)
}

// fallbackURL resolves a fallback_<i> reference. Unknown indexes map to the
// first video.
func fallbackURL(ref string, videos []string) (string, bool) {
	if !strings.HasPrefix(ref, fallbackPrefix) || len(videos) == 0 {
		return "", false
	}
	i, err := strconv.Atoi(strings.TrimPrefix(ref, fallbackPrefix))
	if err != nil || i < 0 || i >= len(videos) {
		return videos[0], true
	}
	return videos[i], true
}
