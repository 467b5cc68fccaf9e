// Package server serves a track catalog over HTTP.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering.
//
// # Catalog Routes
//
// [CatalogHandler] exposes any [services.Catalog]:
//
//	GET /api/tracks?limit=&token=&after=   one page, {"tracks": [...], "next": "..."}
//	GET /api/tracks/lookup?ids=a&ids=b     tracks for ids in request order
//	GET /health                            liveness
//
// # Client Credentials
//
// [TokenHandler] issues short-lived bearer tokens for the OAuth2 client-credentials grant
// and [RequireBearer] rejects requests without a live token. Together they let [services.HTTPCatalog]
// authenticate through golang.org/x/oauth2/clientcredentials.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes,
// allowing handlers to register multiple routes to encapsulate route definitions within the implementation.
package server
