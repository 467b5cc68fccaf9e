// Package services defines the [Catalog] interface the player pages tracks from and implements it twice.
//
// # Catalog Interface
//
// A catalog is the app-side data source behind the queue:
//   - [Catalog.LoadPage] answers the queue's fetch-more callback with one continuation-token page
//   - [Catalog.Resolve] maps ids from a restore snapshot back to playable tracks
//
// # Static Catalog
//
// [StaticCatalog] generates a fixed list of tracks in memory. Tokens are decimal offsets; without a token the
// page starts after [models.PageRequest.LastTrackID], or at the head when that id is unknown.
//
// # HTTP Catalog
//
// [HTTPCatalog] reads the same pages over JSON:
//
//	GET /api/tracks?limit={n}&token={token}&after={id}  → [PageResponse]
//	GET /api/tracks/lookup?ids={id}&ids={id}            → [LookupResponse]
//
// When client credentials are configured, [NewClientCredentialsClient] returns an [http.Client] that fetches and
// refreshes a bearer token through [clientcredentials.Config].
//
// # Error Handling
//
// Services use typed errors from shared package:
//   - [shared.ErrAPIRequest] : HTTP request failed
//   - [shared.ErrUnexpectedStatus] : non-2xx response
//   - [shared.ErrInvalidInput] : malformed token or page size
package services
