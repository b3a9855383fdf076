package online

import (
	"log"

	"online-subsystem/internal/platform"
	"online-subsystem/internal/settings"
)

// ReadState is the progress of a cached read.
type ReadState uint8

const (
	ReadNotStarted ReadState = iota
	ReadInProgress
	ReadDone
	ReadFailed
)

func (r ReadState) String() string {
	switch r {
	case ReadInProgress:
		return "in_progress"
	case ReadDone:
		return "done"
	case ReadFailed:
		return "failed"
	default:
		return "not_started"
	}
}

// Friend is one entry of a player's friends list.
type Friend struct {
	ID           settings.UniqueNetID `json:"id"`
	Nickname     string               `json:"nickname"`
	PresenceInfo string               `json:"presenceInfo"`
	IsOnline     bool                 `json:"isOnline"`
	IsPlaying    bool                 `json:"isPlaying"`
	IsJoinable   bool                 `json:"isJoinable"`
}

// FriendsCache is the friends list last read for one local player.
type FriendsCache struct {
	Friends   []Friend
	ReadState ReadState
}

// ReadFriendsList starts reading a player's friends list, replacing the
// cache. count limits the read; 0 reads everything.
func (s *Subsystem) ReadFriendsList(user, count, start int) bool {
	if !validUser(user) {
		return false
	}
	cache := &s.friends[user]
	cache.Friends = nil
	cache.ReadState = ReadNotStarted
	slot := &s.Delegates.ReadFriends[user]

	h, code := s.platform.CreateFriendsEnumerator(user, start, 1)
	log.Printf("🎮 CreateFriendsEnumerator(%d, %d, %d) returned 0x%08X", user, start, count, uint32(code))
	if code == platform.Success {
		data := &EnumData{Target: EnumFriends, User: user, Handle: h, PerPage: 1, Count: count}
		t := &readFriendsTask{baseTask: newBaseTask("ReadFriends", slot, data), data: data}
		t.user = user
		code = s.platform.EnumerateFriends(h, &data.Friends, t.overlapped())
		if s.issue(t, code) {
			cache.ReadState = ReadInProgress
			return true
		}
		return false
	}
	// An empty friends list is a finished read.
	if code == platform.NoMoreFiles {
		cache.ReadState = ReadDone
		fire(slot, "ReadFriends", platform.Success, user)
		return true
	}
	cache.ReadState = ReadFailed
	fire(slot, "ReadFriends", code, user)
	return false
}

// readFriendsTask reads one friend per completion until the list runs out.
type readFriendsTask struct {
	baseTask
	data *EnumData
	read int
}

func (t *readFriendsTask) ProcessAsyncResults(s *Subsystem) bool {
	cache := &s.friends[t.data.User]
	if t.CompletionCode() != platform.Success {
		cache.ReadState = ReadDone
		return true
	}
	for _, f := range t.data.Friends {
		cache.Friends = append(cache.Friends, Friend{
			ID:           f.ID,
			Nickname:     f.Nickname,
			PresenceInfo: f.Presence,
			IsOnline:     f.Online,
			IsPlaying:    f.Playing,
			IsJoinable:   f.Joinable,
		})
		t.read++
	}
	if t.data.Count > 0 && t.read >= t.data.Count {
		cache.ReadState = ReadDone
		return true
	}
	code := s.platform.EnumerateFriends(t.data.Handle, &t.data.Friends, t.reissue())
	if !platform.Succeeded(code) {
		t.setCode(code)
		cache.ReadState = ReadDone
		return true
	}
	return false
}

// result reports the end of the list as success.
func (t *readFriendsTask) result() AsyncResult {
	r := t.baseTask.result()
	if r.Code == platform.NoMoreFiles {
		r.Code = platform.Success
	}
	return r
}

func (t *readFriendsTask) onDelete(s *Subsystem) {
	s.platform.CloseEnumerator(t.data.Handle)
}

// GetFriendsList copies part of the cached friends list. It returns the
// cache's read state; the list is only filled once the read is done. count
// 0 copies everything from start.
func (s *Subsystem) GetFriendsList(user, count, start int) ([]Friend, ReadState) {
	if !validUser(user) {
		return nil, ReadFailed
	}
	cache := &s.friends[user]
	if cache.ReadState != ReadDone {
		return nil, cache.ReadState
	}
	if start < 0 || start >= len(cache.Friends) {
		return []Friend{}, ReadDone
	}
	end := len(cache.Friends)
	if count > 0 {
		end = min(start+count, end)
	}
	return append([]Friend(nil), cache.Friends[start:end]...), ReadDone
}

// IsFriend reports whether id is on the player's cached friends list.
func (s *Subsystem) IsFriend(user int, id settings.UniqueNetID) bool {
	if !validUser(user) {
		return false
	}
	for _, f := range s.friends[user].Friends {
		if f.ID == id {
			return true
		}
	}
	return false
}

// FriendsQuery is one id checked by AreAnyFriends.
type FriendsQuery struct {
	ID       settings.UniqueNetID `json:"id"`
	IsFriend bool                 `json:"isFriend"`
}

// AreAnyFriends fills IsFriend for every query and reports whether at
// least one of them is a friend.
func (s *Subsystem) AreAnyFriends(user int, query []FriendsQuery) bool {
	found := false
	for i := range query {
		query[i].IsFriend = s.IsFriend(user, query[i].ID)
		found = found || query[i].IsFriend
	}
	return found
}
