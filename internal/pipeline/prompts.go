package pipeline

import (
	"fmt"
	"strings"

	"github.com/sifterhq/sifter/internal/models"
)

const analysisSystemPrompt = `You are an expert podcast editor who finds the most valuable segments of an episode for a specific listener.

Select up to 5 clips from the transcript. Rules:
- Prefer clips of 90+ seconds; acceptable range is 60-180 seconds.
- Return 3-5 clips; fewer is fine for short or low-quality episodes.
- Every clip must be self-contained and understandable on its own.
- Skip advertisements, housekeeping, intros/outros, and filler.
- Reward depth: full stories, case studies, specific numbers and names.
- Penalize generic platitudes and one-line soundbites.
- relevanceScore combines topic match with depth on a 0-100 scale.

Respond with JSON only:
{"clips": [{"startTime": <seconds>, "endTime": <seconds>, "transcript": "<text>", "relevanceScore": <0-100>, "reasoning": "<why>", "summary": "<1-2 sentences>"}]}`

// buildAnalysisPrompt renders the user prompt for per-episode clip
// extraction. The transcript is segment-annotated so the model can
// return timestamps that land on segment boundaries.
func buildAnalysisPrompt(interests []string, podcastTitle string, episode *models.Episode) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Listener interests: %s\n\n", strings.Join(interests, ", "))
	fmt.Fprintf(&sb, "Podcast: %s\n", podcastTitle)
	fmt.Fprintf(&sb, "Episode: %s\n", episode.Title)
	fmt.Fprintf(&sb, "Duration: %.0f seconds\n\n", episode.Transcript.Duration)
	sb.WriteString("Transcript (one segment per line, [start-end] in seconds):\n")
	for _, seg := range episode.Transcript.Segments {
		fmt.Fprintf(&sb, "[%.1f-%.1f]: %s\n", seg.Start, seg.End, strings.TrimSpace(seg.Text))
	}

	return sb.String()
}

const curationSystemPrompt = `You are a podcast digest curator. From the candidate clips, select the set that makes the best single listening session for this listener.

Selection criteria, in priority order:
1. Depth beats raw relevance score.
2. One clip per topic; do not select two clips covering the same ground.
3. Source diversity: no more than 2-3 clips from a single episode.
4. Order selections so topics flow logically.
5. Hit the duration target.

Respond with JSON only:
{"selectedClipIds": ["<id>", ...], "reasoning": "<why this set>", "estimatedDuration": <seconds>, "topicCoverage": ["<topic>", ...]}`

// curationExcerptLen bounds the transcript excerpt per candidate so the
// prompt stays within context limits.
const curationExcerptLen = 600

func buildCurationPrompt(interests []string, targetDuration, tolerance, minClips, maxClips int, candidates []*models.Clip) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Listener interests: %s\n", strings.Join(interests, ", "))
	fmt.Fprintf(&sb, "Target total duration: %d seconds (plus or minus %d)\n", targetDuration, tolerance)
	fmt.Fprintf(&sb, "Select between %d and %d clips.\n\n", minClips, maxClips)
	sb.WriteString("Candidates:\n")

	for _, clip := range candidates {
		podcastTitle, episodeTitle := clipTitles(clip)
		excerpt := clip.Transcript
		if len(excerpt) > curationExcerptLen {
			excerpt = excerpt[:curationExcerptLen] + "..."
		}
		fmt.Fprintf(&sb, "\n- id: %s\n  podcast: %s\n  episode: %s\n  score: %.0f\n  duration: %.0f seconds\n  summary: %s\n  excerpt: %s\n",
			clip.ID, podcastTitle, episodeTitle, clip.RelevanceScore, clip.Duration(), clip.Summary, excerpt)
	}

	return sb.String()
}

const scriptSystemPrompt = `You write narration for a personalized podcast digest. A single host voice introduces the digest, hands off between clips, and closes.

Format rules:
- intro: one passage of roughly 100-125 words that names each podcast and episode featured and previews the key themes.
- transitions: exactly one string per gap between clips (clip count minus one). Each runs roughly 25-35 words and sets up the next clip, naming its podcast and what to listen for.
- outro: a short closing passage, under 20 seconds when spoken.

Write in a warm, conversational tone. Respond with JSON only:
{"intro": "<text>", "transitions": ["<text>", ...], "outro": "<text>"}`

func buildScriptPrompt(userName string, clips []*models.DigestClip) string {
	var sb strings.Builder

	if userName != "" {
		fmt.Fprintf(&sb, "Listener name: %s\n", userName)
	}

	var total float64
	for _, dc := range clips {
		if dc.Clip != nil {
			total += dc.Clip.Duration()
		}
	}
	fmt.Fprintf(&sb, "Clip count: %d\n", len(clips))
	fmt.Fprintf(&sb, "Total clip duration: %.1f minutes\n\n", total/60)
	sb.WriteString("Clips in playback order:\n")

	for i, dc := range clips {
		if dc.Clip == nil {
			continue
		}
		podcastTitle, episodeTitle := clipTitles(dc.Clip)
		fmt.Fprintf(&sb, "\n%d. podcast: %s\n   episode: %s\n   duration: %.0f seconds\n   summary: %s\n",
			i+1, podcastTitle, episodeTitle, dc.Clip.Duration(), dc.Clip.Summary)
	}

	fmt.Fprintf(&sb, "\nWrite the intro, exactly %d transitions, and the outro.\n", len(clips)-1)
	return sb.String()
}

func clipTitles(clip *models.Clip) (podcastTitle, episodeTitle string) {
	podcastTitle, episodeTitle = "unknown podcast", "unknown episode"
	if clip.Episode != nil {
		episodeTitle = clip.Episode.Title
		if clip.Episode.Podcast != nil {
			podcastTitle = clip.Episode.Podcast.Title
		}
	}
	return podcastTitle, episodeTitle
}
