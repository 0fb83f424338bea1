package connectors

import (
	"strings"
	"time"

	"podconnect/internal/types"
)

// requiredKeys lists the credential fields each source cannot run without.
// Podigee is checked separately: it accepts a token or a username/password pair.
var requiredKeys = map[types.Source][]string{
	types.SourceSpotify: {types.KeySpotifySpDC, types.KeySpotifySpKey},
	types.SourceApple:   {types.KeyAppleEndpoint, types.KeyAppleBearerToken},
	types.SourceAnchor:  {types.KeyAnchorPwS},
	types.SourcePodigee: nil,
}

// Validate checks that a decrypted task carries what its source needs.
// Missing fields are a configuration error naming every missing key.
func Validate(task types.PodcastTask) error {
	creds := task.Credentials
	missing := creds.Missing(types.KeyCollectorToken)
	missing = append(missing, creds.Missing(requiredKeys[task.Source]...)...)

	switch task.Source {
	case types.SourceAnchor:
		if AnchorWebstationID(task) == "" {
			missing = append(missing, types.KeyAnchorWebstationID)
		}
	case types.SourcePodigee:
		hasToken := creds.Has(types.KeyPodigeeAccessToken)
		hasLogin := creds.Has(types.KeyPodigeeUsername) && creds.Has(types.KeyPodigeePassword)
		if !hasToken && !hasLogin {
			missing = append(missing, types.KeyPodigeeAccessToken+" or "+types.KeyPodigeeUsername+"+"+types.KeyPodigeePassword)
		}
		if task.SourcePodcastID == "" {
			missing = append(missing, "PODCAST_ID")
		}
	default:
		if task.SourcePodcastID == "" {
			missing = append(missing, "PODCAST_ID")
		}
	}

	if len(missing) > 0 {
		return types.NewAppErrorWithDetails(types.ErrCodeConfigMissingSecret,
			"missing required credentials: "+strings.Join(missing, ", "), nil,
			map[string]any{"missing": missing})
	}
	return nil
}

// AnchorWebstationID returns the configured webstation id, falling back to
// the source podcast id.
func AnchorWebstationID(task types.PodcastTask) string {
	return task.Credentials.Get(types.KeyAnchorWebstationID, task.SourcePodcastID)
}

// ShowID is the podcast identity sent to the collector in every envelope.
func ShowID(task types.PodcastTask) string {
	if task.Source == types.SourceAnchor {
		return AnchorWebstationID(task)
	}
	return task.SourcePodcastID
}

// appleMinimumDays is the shortest window the Apple trends API answers.
const appleMinimumDays = 30

// Window resolves the date range a task fetches. START_DATE and END_DATE in
// the credentials override the per-source defaults relative to now.
func Window(task types.PodcastTask, now time.Time) (types.DateRange, error) {
	day := func(offset int) string {
		return now.UTC().AddDate(0, 0, offset).Format(types.DateLayout)
	}

	var defStart, defEnd string
	switch task.Source {
	case types.SourceSpotify:
		defStart, defEnd = day(-4), day(-1)
	case types.SourceApple:
		defStart, defEnd = day(-7), day(0)
	default:
		defStart, defEnd = day(-30), day(-1)
	}

	r, err := types.ParseDateRange(
		task.Credentials.Get(types.KeyStartDate, defStart),
		task.Credentials.Get(types.KeyEndDate, defEnd),
	)
	if err != nil {
		return types.DateRange{}, err
	}

	if task.Source == types.SourceApple && r.End.Sub(r.Start) < appleMinimumDays*24*time.Hour {
		r.Start = r.End.AddDate(0, 0, -appleMinimumDays)
	}
	return r, nil
}
