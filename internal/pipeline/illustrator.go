package pipeline

import (
	"bytes"
	"context"

	"github.com/rs/zerolog"

	"github.com/storyforge/api/internal/client"
)

// Illustrator turns an illustration prompt into a stored raster image,
// wrapping the image provider in the retry policy. Exhausted retries
// degrade to a missing image; they never fail the job.
type Illustrator struct {
	images  client.ImageClient
	storage client.StorageClient
	retry   RetryPolicy
	log     zerolog.Logger
}

func NewIllustrator(images client.ImageClient, storage client.StorageClient, retry RetryPolicy, log zerolog.Logger) *Illustrator {
	return &Illustrator{
		images:  images,
		storage: storage,
		retry:   retry,
		log:     log.With().Str("component", "illustrator").Logger(),
	}
}

// Illustrate generates an image for the prompt and uploads it under the
// job's prefix, returning the stored location. An empty location with a nil
// error means retries were exhausted and the page proceeds without an
// image. The only non-nil error is a safety block, which is terminal
// upstream.
func (il *Illustrator) Illustrate(ctx context.Context, jobID, filename, prompt, aspectRatio string, refs [][]byte) (string, error) {
	var location string

	err := il.retry.Do(ctx, func(ctx context.Context) error {
		img, err := il.images.Generate(ctx, client.ImageRequest{
			Prompt:          prompt,
			AspectRatio:     aspectRatio,
			ReferenceImages: refs,
		})
		if err != nil {
			return err
		}

		loc, err := il.storage.Upload(ctx, jobID, filename, bytes.NewReader(img.Data), img.MimeType)
		if err != nil {
			return err
		}

		location = loc
		return nil
	})
	if err != nil {
		if IsSafetyBlocked(err) {
			return "", err
		}
		il.log.Error().Err(err).Str("job_id", jobID).Str("file", filename).
			Msg("illustration failed after retries, continuing without image")
		return "", nil
	}

	return location, nil
}
