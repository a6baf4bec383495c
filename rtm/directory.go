package rtm

import (
	"strings"

	"github.com/patrickmn/go-cache"

	"github.com/nicebartender/edi/event"
)

// Directory resolves channel and user ids to names. It is loaded when the
// connection opens and kept current from directory change events.
type Directory struct {
	channels *cache.Cache // id -> event.Channel
	byName   *cache.Cache // lower-case name -> channel id
	users    *cache.Cache // id -> event.User
}

func NewDirectory() *Directory {
	return &Directory{
		channels: cache.New(cache.NoExpiration, 0),
		byName:   cache.New(cache.NoExpiration, 0),
		users:    cache.New(cache.NoExpiration, 0),
	}
}

func (d *Directory) PutChannel(c event.Channel) {
	if c.ID == "" {
		return
	}
	if old, ok := d.Channel(c.ID); ok && old.Name != c.Name {
		d.byName.Delete(strings.ToLower(old.Name))
	}
	d.channels.Set(c.ID, c, cache.NoExpiration)
	if c.Name != "" {
		d.byName.Set(strings.ToLower(c.Name), c.ID, cache.NoExpiration)
	}
}

func (d *Directory) PutUser(u event.User) {
	if u.ID == "" {
		return
	}
	d.users.Set(u.ID, u, cache.NoExpiration)
}

func (d *Directory) Channel(id string) (event.Channel, bool) {
	v, ok := d.channels.Get(id)
	if !ok {
		return event.Channel{}, false
	}
	return v.(event.Channel), true
}

// ChannelByName finds a channel by name, with or without a leading '#'.
func (d *Directory) ChannelByName(name string) (event.Channel, bool) {
	id, ok := d.byName.Get(strings.ToLower(strings.TrimPrefix(name, "#")))
	if !ok {
		return event.Channel{}, false
	}
	return d.Channel(id.(string))
}

func (d *Directory) User(id string) (event.User, bool) {
	v, ok := d.users.Get(id)
	if !ok {
		return event.User{}, false
	}
	return v.(event.User), true
}

// Len reports the number of channels and users known.
func (d *Directory) Len() (channels, users int) {
	return d.channels.ItemCount(), d.users.ItemCount()
}
