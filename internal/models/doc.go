// Package models defines the value types shared by the queue, session, connector and library.
//
// The package contains three groups of types:
//
// 1. Playback items and paging
//   - [Track] : an immutable playable item with optional metadata and request headers
//   - [PageRequest] / [PageResult] : one continuation-token page of tracks
//
// 2. Persistent records
//   - [DownloadRecord] : offline copy status and progress per track
//   - [Favorite] : favorite membership
//   - [RestoreSnapshot] : the queue and position saved for the next launch
//
// 3. Playback surface
//   - [PlaybackState] : observable player state
//   - [PlaybackEvent] : the sealed set of events published to subscribers
package models
