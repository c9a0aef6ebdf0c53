package hostdriver

import "github.com/mipod/audiodrm/channel"

// Status is a read-only snapshot of channel state the host CLI reports to
// the user; it never mutates the channel.
type Status struct {
	State    channel.DRMState
	LoggedIn bool
}

// ReadStatus takes a read-only snapshot.
func ReadStatus(ch *channel.Channel) Status {
	return Status{State: ch.State(), LoggedIn: ch.LoggedIn()}
}

// QueryResult is the host-side decoding of a QUERY_ENC_SONG response: the
// currently loaded song's owner plus its licensed regions and shared
// users, scoped to what the logged-in session is entitled to see.
type QueryResult struct {
	Owner   string
	Regions []string
	Users   []string
}

// ReadQueryResult decodes the channel's Query payload view after a
// QUERY_ENC_SONG command completes.
func ReadQueryResult(ch *channel.Channel) QueryResult {
	q := ch.Payload().AsQuery()
	res := QueryResult{Owner: q.Owner()}
	for i := 0; i < int(q.NumRegions()); i++ {
		res.Regions = append(res.Regions, q.Region(i))
	}
	for i := 0; i < int(q.NumUsers()); i++ {
		res.Users = append(res.Users, q.User(i))
	}
	return res
}

// PlayerInfo is the host-side decoding of a QUERY_PLAYER response: the
// device's own provisioned regions and users, independent of any song.
// It reuses the Query view's wire layout; the owner field is always empty
// since no song is involved.
type PlayerInfo struct {
	Regions []string
	Users   []string
}

// ReadPlayerInfo decodes the channel's Query payload view after a
// QUERY_PLAYER command completes.
func ReadPlayerInfo(ch *channel.Channel) PlayerInfo {
	q := ch.Payload().AsQuery()
	var info PlayerInfo
	for i := 0; i < int(q.NumRegions()); i++ {
		info.Regions = append(info.Regions, q.Region(i))
	}
	for i := 0; i < int(q.NumUsers()); i++ {
		info.Users = append(info.Users, q.User(i))
	}
	return info
}
