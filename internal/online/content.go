package online

import (
	"fmt"
	"log"
	"path"
	"strings"

	"online-subsystem/internal/platform"
)

// packageExtensions marks content files loaded as game packages.
var packageExtensions = map[string]bool{
	".upk":  true,
	".u":    true,
	".umap": true,
}

// OnlineContent is one mounted downloadable content package.
type OnlineContent struct {
	FriendlyName    string   `json:"friendlyName"`
	ContentPath     string   `json:"contentPath"`
	Root            string   `json:"root"`
	LicenseMask     uint32   `json:"licenseMask"`
	ContentPackages []string `json:"contentPackages"`
	ContentFiles    []string `json:"contentFiles"`
}

// ContentCache is the content list and download counts of one player.
type ContentCache struct {
	Content            []OnlineContent
	ReadState          ReadState
	NewDownloadCount   int
	TotalDownloadCount int
}

// ReadContentList enumerates and mounts a player's downloaded content,
// replacing the cache.
func (s *Subsystem) ReadContentList(user int) bool {
	if !validUser(user) {
		return false
	}
	cache := &s.content[user]
	cache.Content = nil
	cache.ReadState = ReadNotStarted
	slot := &s.Delegates.ReadContent[user]

	h, code := s.platform.CreateContentEnumerator(user)
	if code == platform.Success {
		data := &EnumData{Target: EnumContent, User: user, Handle: h, PerPage: 1, Mode: ContentEnumerate}
		t := &readContentTask{baseTask: newBaseTask("ReadContent", slot, data), data: data}
		t.user = user
		code = s.platform.EnumerateContent(h, &data.Content, t.overlapped())
		if s.issue(t, code) {
			cache.ReadState = ReadInProgress
			return true
		}
		return false
	}
	log.Printf("⚠️ CreateContentEnumerator(%d) failed with 0x%08X", user, uint32(code))
	if code == platform.NoMoreFiles {
		cache.ReadState = ReadDone
		fire(slot, "ReadContent", platform.Success, user)
		return true
	}
	cache.ReadState = ReadFailed
	fire(slot, "ReadContent", code, user)
	return false
}

// readContentTask alternates between enumerating a record and mounting it.
type readContentTask struct {
	baseTask
	data *EnumData
}

func (t *readContentTask) ProcessAsyncResults(s *Subsystem) bool {
	d := t.data
	cache := &s.content[d.User]
	code := t.CompletionCode()

	if d.Mode == ContentEnumerate {
		if code != platform.Success || len(d.Content) == 0 {
			cache.ReadState = ReadDone
			return true
		}
		d.Current = d.Content[0]
		d.ContentDrive = fmt.Sprintf("DLC%d", s.contentSeq)
		s.contentSeq++
		d.Mount = platform.ContentMount{}
		if platform.Succeeded(s.platform.OpenContent(d.User, d.Current, &d.Mount, t.reissue())) {
			d.Mode = ContentCreate
			return false
		}
		log.Printf("⚠️ Failed to open content %q, skipping", d.Current.DisplayName)
		return t.enumerateNext(s)
	}

	if code == platform.Success {
		c := OnlineContent{
			FriendlyName: d.Current.DisplayName,
			ContentPath:  d.ContentDrive,
			Root:         d.Mount.Root,
			LicenseMask:  d.Mount.LicenseMask,
		}
		for _, f := range d.Mount.Files {
			if packageExtensions[strings.ToLower(path.Ext(f))] {
				c.ContentPackages = append(c.ContentPackages, f)
			} else {
				c.ContentFiles = append(c.ContentFiles, f)
			}
		}
		cache.Content = append(cache.Content, c)
		log.Printf("✅ Using downloaded content package %q", c.FriendlyName)
	} else {
		log.Printf("⚠️ Mounting content %q failed with 0x%08X", d.Current.DisplayName, uint32(code))
	}
	d.Mode = ContentEnumerate
	return t.enumerateNext(s)
}

func (t *readContentTask) enumerateNext(s *Subsystem) bool {
	code := s.platform.EnumerateContent(t.data.Handle, &t.data.Content, t.reissue())
	if platform.Succeeded(code) {
		return false
	}
	s.content[t.data.User].ReadState = ReadDone
	t.setCode(platform.Success)
	return true
}

func (t *readContentTask) result() AsyncResult {
	r := t.baseTask.result()
	if r.Code == platform.NoMoreFiles {
		r.Code = platform.Success
	}
	return r
}

func (t *readContentTask) onDelete(s *Subsystem) {
	s.platform.CloseEnumerator(t.data.Handle)
}

// GetContentList returns a copy of a player's content once the read is done.
func (s *Subsystem) GetContentList(user int) ([]OnlineContent, ReadState) {
	if !validUser(user) {
		return nil, ReadFailed
	}
	cache := &s.content[user]
	if cache.ReadState != ReadDone {
		return nil, cache.ReadState
	}
	return append([]OnlineContent(nil), cache.Content...), ReadDone
}

// ClearContentList drops a player's cached content.
func (s *Subsystem) ClearContentList(user int) {
	if validUser(user) {
		s.content[user] = ContentCache{}
	}
}

// QueryAvailableDownloads asks for the number of new and total offers.
func (s *Subsystem) QueryAvailableDownloads(user int) bool {
	if !validUser(user) {
		return false
	}
	data := &DownloadsData{User: user}
	t := newSimpleTask("QueryDownloads", &s.Delegates.QueryDownloads[user], func(s *Subsystem, code platform.Result) {
		if code != platform.Success {
			return
		}
		s.content[user].NewDownloadCount = data.Counts.New
		s.content[user].TotalDownloadCount = data.Counts.Total
	})
	t.data = data
	t.user = user
	code := s.platform.QueryDownloads(user, &data.Counts, t.overlapped())
	log.Printf("🎮 QueryDownloads(%d) returned 0x%08X", user, uint32(code))
	return s.issue(t, code)
}

// DownloadCounts returns the last queried counts of a player.
func (s *Subsystem) DownloadCounts(user int) (newCount, total int) {
	if !validUser(user) {
		return 0, 0
	}
	return s.content[user].NewDownloadCount, s.content[user].TotalDownloadCount
}
