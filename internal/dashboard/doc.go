// Package dashboard serves a pre-built web dashboard from disk.
//
// The relay's dashboards are built separately (a static single-page app).
// When api.dashboard_dir points at the build output, the API mounts it
// under /dashboard/ with single-page fallback: unknown paths serve
// index.html so client-side routing keeps working.
package dashboard
