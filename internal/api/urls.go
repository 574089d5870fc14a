package api

import (
	"net/url"
	"strings"

	"apprtc/native/internal/domain"
)

// JoinURL is {roomServerUrl}/join/{roomId}{?query}.
func JoinURL(p domain.RoomConnectionParameters) string {
	return roomURL(p, "join", p.RoomID)
}

// MessageURL is {roomServerUrl}/message/{roomId}/{clientId}{?query}.
func MessageURL(p domain.RoomConnectionParameters, clientID string) string {
	return roomURL(p, "message", p.RoomID, clientID)
}

// LeaveURL is {roomServerUrl}/leave/{roomId}/{clientId}{?query}.
func LeaveURL(p domain.RoomConnectionParameters, clientID string) string {
	return roomURL(p, "leave", p.RoomID, clientID)
}

// RoomPath joins segments onto base, path-escaping each one.
func RoomPath(base string, segments ...string) string {
	escaped := make([]string, len(segments))
	for i, s := range segments {
		escaped[i] = url.PathEscape(s)
	}
	return strings.TrimSuffix(base, "/") + "/" + strings.Join(escaped, "/")
}

func roomURL(p domain.RoomConnectionParameters, segments ...string) string {
	u := RoomPath(p.RoomServerURL, segments...)
	if p.URLParameters != "" {
		u += "?" + strings.TrimPrefix(p.URLParameters, "?")
	}
	return u
}
