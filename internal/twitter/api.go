package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/HoloArchivists/twspace-dl/internal/cookies"
	"github.com/HoloArchivists/twspace-dl/internal/domain"
	"github.com/HoloArchivists/twspace-dl/pkg/logger"
)

// Base URL of the private API.
const apiURL = "https://twitter.com/i/api"

// GraphQL endpoint identities. Query IDs and feature blobs are copied
// as-is from real requests; they change with upstream deployments and
// fail loudly when stale.
const (
	audioSpaceByIDQueryID    = "xVEzTKg_mLTHubK5ayL0HA"
	userByScreenNameQueryID  = "oUZZZ8Oddwxs8Cd3iW3UEA"
	profileSpotlightsQueryID = "ZQEuHPrIYlvh1NAyIQHP_w"
	userTweetsQueryID        = "jpCmlX6UgnPEZJknGKbmZA"
)

const audioSpaceByIDFeatures = `{"spaces_2022_h2_clipping":true,"spaces_2022_h2_spaces_communities":true,"responsive_web_graphql_exclude_directive_enabled":true,"verified_phone_label_enabled":false,"creator_subscriptions_tweet_preview_api_enabled":true,"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,"tweetypie_unmention_optimization_enabled":true,"responsive_web_edit_tweet_api_enabled":true,"graphql_is_translatable_rweb_tweet_is_translatable_enabled":true,"view_counts_everywhere_api_enabled":true,"longform_notetweets_consumption_enabled":true,"responsive_web_twitter_article_tweet_consumption_enabled":false,"tweet_awards_web_tipping_enabled":false,"freedom_of_speech_not_reach_fetch_enabled":true,"standardized_nudges_misinfo":true,"tweet_with_visibility_results_prefer_gql_limited_actions_policy_enabled":true,"responsive_web_graphql_timeline_navigation_enabled":true,"longform_notetweets_rich_text_read_enabled":true,"longform_notetweets_inline_media_enabled":true,"responsive_web_media_download_video_enabled":false,"responsive_web_enhance_cards_enabled":false}`

const userByScreenNameFeatures = `{"hidden_profile_likes_enabled":false,"responsive_web_graphql_exclude_directive_enabled":true,"verified_phone_label_enabled":false,"subscriptions_verification_info_verified_since_enabled":true,"highlights_tweets_tab_ui_enabled":true,"creator_subscriptions_tweet_preview_api_enabled":true,"responsive_web_graphql_skip_user_profile_image_extensions_enabled":false,"responsive_web_graphql_timeline_navigation_enabled":true}`

// API exposes the typed queries of the broadcast, user, fleets and
// live-status endpoints. It runs authenticated when a cookie jar is
// supplied and falls back to a guest session otherwise.
type API struct {
	Client  *HTTPClient
	session *Session
	jar     *cookies.Jar
	log     *logger.Logger
}

// NewAPI creates the API facade. jar may be nil for guest-only access.
func NewAPI(client *HTTPClient, session *Session, jar *cookies.Jar, log *logger.Logger) *API {
	return &API{Client: client, session: session, jar: jar, log: log}
}

// Authenticated reports whether user cookies are available.
func (a *API) Authenticated() bool { return a.jar != nil }

func (a *API) credentials(ctx context.Context) (map[string]string, map[string]string, error) {
	headers := map[string]string{"authorization": Authorization}
	if a.jar != nil {
		headers["x-csrf-token"] = a.jar.CSRFToken()
		return headers, a.jar.Map(), nil
	}
	token, err := a.session.Token(ctx)
	if err != nil {
		return nil, nil, err
	}
	headers["x-guest-token"] = token
	return headers, nil, nil
}

// compactJSON serializes v to a compact JSON string; strings pass through
// untouched so prerecorded feature blobs stay byte-identical.
func compactJSON(v any) (string, error) {
	if s, ok := v.(string); ok {
		return s, nil
	}
	out, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(out), nil
}

// Query sends a GraphQL GET request. It is a pure parameter-encoding shim
// over the retrying client.
func (a *API) Query(ctx context.Context, queryID, operation string, variables, features any) (json.RawMessage, error) {
	params := url.Values{}
	vars, err := compactJSON(variables)
	if err != nil {
		return nil, fmt.Errorf("encoding variables: %w", err)
	}
	params.Set("variables", vars)
	if features != nil {
		feats, err := compactJSON(features)
		if err != nil {
			return nil, fmt.Errorf("encoding features: %w", err)
		}
		params.Set("features", feats)
	}

	headers, reqCookies, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	var raw json.RawMessage
	endpoint := joinURL(apiURL, "graphql", queryID, operation)
	if err := a.Client.GetJSON(ctx, endpoint, params, headers, reqCookies, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}

// AudioSpaceByID queries space details by space ID.
func (a *API) AudioSpaceByID(ctx context.Context, spaceID string) (json.RawMessage, error) {
	variables := map[string]any{
		"id":              spaceID,
		"isMetatagsQuery": true,
		"withReplays":     true,
		"withListeners":   true,
	}
	return a.Query(ctx, audioSpaceByIDQueryID, "AudioSpaceById", variables, audioSpaceByIDFeatures)
}

// UserByScreenName queries user details by their @ handle.
func (a *API) UserByScreenName(ctx context.Context, screenName string) (json.RawMessage, error) {
	variables := map[string]any{
		"screen_name":              screenName,
		"withSafetyModeUserFields": true,
	}
	return a.Query(ctx, userByScreenNameQueryID, "UserByScreenName", variables, userByScreenNameFeatures)
}

// ProfileSpotlightsQuery is the backup user-details endpoint. Its response
// carries less information but still has the essential rest_id field, so it
// serves as a fallback when UserByScreenName is rate limited.
func (a *API) ProfileSpotlightsQuery(ctx context.Context, screenName string) (json.RawMessage, error) {
	variables := map[string]any{"screen_name": screenName}
	return a.Query(ctx, profileSpotlightsQueryID, "ProfileSpotlightsQuery", variables, nil)
}

// UserID retrieves the numeric user ID (rest_id) for a screen name,
// falling back to the spotlights endpoint when the primary one is
// rate limited.
func (a *API) UserID(ctx context.Context, screenName string) (string, error) {
	data, err := a.UserByScreenName(ctx, screenName)
	if err == nil {
		var payload struct {
			Data struct {
				User struct {
					Result struct {
						RestID string `json:"rest_id"`
					} `json:"result"`
				} `json:"user"`
			} `json:"data"`
		}
		if err := json.Unmarshal(data, &payload); err != nil || payload.Data.User.Result.RestID == "" {
			return "", fmt.Errorf("no rest_id for user %s", screenName)
		}
		return payload.Data.User.Result.RestID, nil
	}
	if !errors.Is(err, domain.ErrRateLimited) {
		return "", err
	}

	a.log.Warnw("trying with backup endpoint", "screen_name", screenName)
	data, err = a.ProfileSpotlightsQuery(ctx, screenName)
	if err != nil {
		return "", err
	}
	var payload struct {
		Data struct {
			UserResultByScreenName struct {
				Result struct {
					RestID string `json:"rest_id"`
				} `json:"result"`
			} `json:"user_result_by_screen_name"`
		} `json:"data"`
	}
	if err := json.Unmarshal(data, &payload); err != nil || payload.Data.UserResultByScreenName.Result.RestID == "" {
		return "", fmt.Errorf("no rest_id for user %s", screenName)
	}
	return payload.Data.UserResultByScreenName.Result.RestID, nil
}

// UserTweets fetches the user's most recent tweets. The raw body is
// returned untouched; the resolver scans it for announced space URLs.
func (a *API) UserTweets(ctx context.Context, userID string, count int) (string, error) {
	variables := map[string]any{
		"userId":                 userID,
		"count":                  count,
		"withTweetQuoteCount":    true,
		"includePromotedContent": true,
		"withUserResults":        true,
		"withVoice":              true,
	}
	params := url.Values{}
	vars, err := compactJSON(variables)
	if err != nil {
		return "", err
	}
	params.Set("variables", vars)

	headers, reqCookies, err := a.credentials(ctx)
	if err != nil {
		return "", err
	}
	endpoint := joinURL(apiURL, "graphql", userTweetsQueryID, "UserTweets")
	return a.Client.GetText(ctx, endpoint, params, headers, reqCookies)
}

// AvatarContent retrieves ongoing-space details for up to 100 user IDs
// through the fleets endpoint.
func (a *API) AvatarContent(ctx context.Context, userIDs ...string) (*AvatarContentResponse, error) {
	if len(userIDs) > 100 {
		return nil, fmt.Errorf("number of user IDs exceeded the limit of 100 per request")
	}
	params := url.Values{}
	params.Set("user_ids", strings.Join(userIDs, ","))
	params.Set("only_spaces", "true")

	headers, reqCookies, err := a.credentials(ctx)
	if err != nil {
		return nil, err
	}
	var payload AvatarContentResponse
	endpoint := joinURL(apiURL, "fleets", "v1", "avatar_content")
	if err := a.Client.GetJSON(ctx, endpoint, params, headers, reqCookies, &payload); err != nil {
		return nil, err
	}
	return &payload, nil
}

// AvatarContentResponse is the fleets avatar_content response shape,
// reduced to the fields this tool reads.
type AvatarContentResponse struct {
	Users map[string]struct {
		Spaces struct {
			LiveContent struct {
				AudioSpace struct {
					BroadcastID string `json:"broadcast_id"`
				} `json:"audiospace"`
			} `json:"live_content"`
		} `json:"spaces"`
	} `json:"users"`
}

// LiveVideoStreamStatus retrieves the media playlist details for a media
// key and returns the liveness-bound dynamic location.
func (a *API) LiveVideoStreamStatus(ctx context.Context, mediaKey string) (string, error) {
	headers, reqCookies, err := a.credentials(ctx)
	if err != nil {
		return "", err
	}
	var payload struct {
		Source struct {
			Location string `json:"location"`
		} `json:"source"`
	}
	endpoint := joinURL(apiURL, "1.1/live_video_stream", "status", mediaKey)
	if err := a.Client.GetJSON(ctx, endpoint, nil, headers, reqCookies, &payload); err != nil {
		return "", err
	}
	if payload.Source.Location == "" {
		return "", fmt.Errorf("no stream location for media key %s", mediaKey)
	}
	return payload.Source.Location, nil
}
