package aggregator

import (
	"raidhub/internal/broadcast"
	"raidhub/internal/hashpipeline"
	"raidhub/internal/parser"
	"raidhub/internal/raid"
	"raidhub/internal/ringbuffer"
)

func levelOf(bossName string) int16 {
	return parser.Level(bossName)
}

func (a *Aggregator) handleControl(ev controlEvent) {
	switch e := ev.(type) {
	case evSubscribe:
		a.handleSubscribe(e)
	case evUnsubscribe:
		a.handleUnsubscribe(e)
	case evFollow:
		a.handleFollow(e)
	case evUnfollow:
		a.handleUnfollow(e)
	case evHeartbeat:
		a.handleHeartbeat()
	case evGetBosses:
		a.handleGetBosses(e)
	case evGetTweets:
		a.handleGetTweets(e)
	case evGetBossesForSubscriber:
		a.handleGetBossesForSubscriber(e)
	case evGetTweetsForSubscriber:
		a.handleGetTweetsForSubscriber(e)
	case evExportMetadata:
		a.handleExportMetadata(e)
	case evExportMetrics:
		a.handleExportMetrics(e)
	case evRemoveBosses:
		a.handleRemoveBosses(e)
	}
}

func (a *Aggregator) handleSubscribe(e evSubscribe) {
	id := a.ids.Get()
	ref := &subscriberRef{sub: e.sub, following: make(map[string]bool)}
	a.refs[id] = ref
	a.global.Subscribe(id, ref)
	if a.metrics != nil {
		a.metrics.SetTotalSubscribers(a.global.Len())
	}
	e.reply <- newSubscription(id, a.newClient())
}

func (a *Aggregator) handleUnsubscribe(e evUnsubscribe) {
	a.global.Unsubscribe(e.id)
	delete(a.refs, e.id)
	a.ids.Recycle(e.id)
	if a.metrics != nil {
		a.metrics.SetTotalSubscribers(a.global.Len())
	}
}

func (a *Aggregator) handleFollow(e evFollow) {
	ref, ok := a.refs[e.id]
	if !ok {
		return
	}
	ref.following[e.boss] = true

	if entry, ok := a.catalog[e.boss]; ok {
		entry.followers.Subscribe(e.id, ref)
		if a.metrics != nil {
			a.metrics.SetFollowers(e.boss, entry.followers.Len())
		}
		return
	}
	group, ok := a.pending[e.boss]
	if !ok {
		group = broadcast.New[uint32, any]()
		a.pending[e.boss] = group
	}
	group.Subscribe(e.id, ref)
}

func (a *Aggregator) handleUnfollow(e evUnfollow) {
	ref, ok := a.refs[e.id]
	if ok {
		delete(ref.following, e.boss)
	}
	if entry, ok := a.catalog[e.boss]; ok {
		entry.followers.Unsubscribe(e.id)
		if a.metrics != nil {
			a.metrics.SetFollowers(e.boss, entry.followers.Len())
		}
		return
	}
	if group, ok := a.pending[e.boss]; ok {
		group.Unsubscribe(e.id)
		if group.IsEmpty() {
			delete(a.pending, e.boss)
		}
	}
}

func (a *Aggregator) handleHeartbeat() {
	item, ok := a.adapt(Message{Kind: KindHeartbeat})
	a.evictMany(a.global.MaybeSend(item, ok))
}

func (a *Aggregator) handleGetBosses(e evGetBosses) {
	out := make([]raid.Boss, 0, len(a.catalog))
	for _, entry := range a.catalog {
		out = append(out, entry.meta.Boss.Clone())
	}
	e.reply <- out
}

func (a *Aggregator) handleGetTweets(e evGetTweets) {
	entry, ok := a.catalog[e.boss]
	if !ok {
		e.reply <- []raid.Tweet{}
		return
	}
	e.reply <- entry.recent.Snapshot()
}

func (a *Aggregator) handleGetBossesForSubscriber(e evGetBossesForSubscriber) {
	if !a.bossListOK {
		return
	}
	ref, ok := a.refs[e.id]
	if !ok {
		return
	}
	if !ref.sub.Send(a.bossList) {
		a.evictSubscriber(e.id)
	}
}

func (a *Aggregator) handleGetTweetsForSubscriber(e evGetTweetsForSubscriber) {
	ref, ok := a.refs[e.id]
	if !ok {
		return
	}
	entry, ok := a.catalog[e.boss]
	var tweets []raid.Tweet
	if ok {
		tweets = entry.recent.Snapshot()
	}
	item, ok2 := a.adapt(Message{Kind: KindTweetList, Tweets: tweets})
	if !ok2 {
		return
	}
	if !ref.sub.Send(item) {
		a.evictSubscriber(e.id)
	}
}

func (a *Aggregator) handleExportMetadata(e evExportMetadata) {
	out := make([]raid.Metadata, 0, len(a.catalog))
	for _, entry := range a.catalog {
		m := entry.meta
		m.Boss = m.Boss.Clone()
		out = append(out, m)
	}
	e.reply <- out
}

func (a *Aggregator) handleExportMetrics(e evExportMetrics) {
	if a.metrics == nil {
		e.reply <- nil
		return
	}
	e.reply <- a.metrics.Export()
}

func (a *Aggregator) handleRemoveBosses(e evRemoveBosses) {
	changed := false
	for name, entry := range a.catalog {
		if !e.pred(entry.meta.Boss) {
			continue
		}
		item, ok := a.adapt(Message{Kind: KindBossRemove, BossName: name})
		a.evictMany(a.global.MaybeSend(item, ok))

		if !entry.followers.IsEmpty() {
			a.pending[name] = entry.followers
		}
		delete(a.catalog, name)
		if a.metrics != nil {
			a.metrics.RemoveBoss(name)
		}
		changed = true
	}
	if changed {
		a.rebuildBossList()
	}
}

// evictSubscriber removes a subscriber that failed a send from the global
// group and every boss follower group it belongs to, and recycles its id —
// what Unsubscribe does, plus the follower-group removal that Unsubscribe
// leaves to the Subscription's Unfollow calls. Per-boss follower metrics
// are not updated here.
func (a *Aggregator) evictSubscriber(id uint32) {
	ref, ok := a.refs[id]
	if !ok {
		return
	}
	for boss := range ref.following {
		if entry, ok := a.catalog[boss]; ok {
			entry.followers.Unsubscribe(id)
		}
		if group, ok := a.pending[boss]; ok {
			group.Unsubscribe(id)
		}
	}
	a.global.Unsubscribe(id)
	delete(a.refs, id)
	a.ids.Recycle(id)
	if a.metrics != nil {
		a.metrics.SetTotalSubscribers(a.global.Len())
	}
}

// evictMany calls evictSubscriber for every id in ids. Used after a
// broadcast Send/MaybeSend reports subscribers evicted mid-fan-out, so
// refs/id pool/metrics stay reconciled with group membership.
func (a *Aggregator) evictMany(ids []uint32) {
	for _, id := range ids {
		a.evictSubscriber(id)
	}
}

func (a *Aggregator) handleNewRaid(info raid.Info) {
	if a.metrics != nil {
		a.metrics.IncTweet(info.Tweet.BossName)
	}
	tweetItem, tweetOK := a.adapt(Message{Kind: KindTweet, Tweet: &info.Tweet})

	name := info.Tweet.BossName
	if entry, ok := a.catalog[name]; ok {
		a.updateExistingBoss(entry, info, tweetItem, tweetOK)
		return
	}
	a.insertNewBoss(name, info, tweetItem, tweetOK)
}

func (a *Aggregator) updateExistingBoss(entry *bossEntry, info raid.Info, tweetItem any, tweetOK bool) {
	entry.meta.LastSeen = info.Tweet.CreatedAt
	a.evictMany(entry.followers.MaybeSend(tweetItem, tweetOK))

	if entry.meta.Boss.Image == "" && info.Image != "" {
		entry.meta.Boss.Image = info.Image
		if a.hashes != nil {
			a.hashes.Request(hashpipeline.Request{BossName: entry.meta.Boss.Name, URL: info.Image})
		}
	}

	for _, other := range entry.meta.Boss.Translations {
		if otherEntry, ok := a.catalog[other]; ok {
			a.evictMany(otherEntry.followers.MaybeSend(tweetItem, tweetOK))
			otherEntry.recent.Push(info.Tweet)
		}
	}

	entry.recent.Push(info.Tweet)
}

func (a *Aggregator) insertNewBoss(name string, info raid.Info, tweetItem any, tweetOK bool) {
	followers, ok := a.pending[name]
	if ok {
		delete(a.pending, name)
	} else {
		followers = broadcast.New[uint32, any]()
	}

	boss := raid.Boss{
		Name:     name,
		Level:    levelOf(name),
		Image:    info.Image,
		Language: info.Tweet.Language,
	}

	bossItem, bossOK := a.adapt(Message{Kind: KindBossUpdate, Boss: &boss})
	a.evictMany(a.global.MaybeSend(bossItem, bossOK))

	a.evictMany(followers.MaybeSend(tweetItem, tweetOK))

	if info.Image != "" && a.hashes != nil {
		a.hashes.Request(hashpipeline.Request{BossName: name, URL: info.Image})
	}

	recent := ringbuffer.New[raid.Tweet](a.historySize)
	recent.Push(info.Tweet)

	a.catalog[name] = &bossEntry{
		meta:      raid.Metadata{Boss: boss, LastSeen: info.Tweet.CreatedAt},
		recent:    recent,
		followers: followers,
	}
	if a.metrics != nil {
		a.metrics.SetFollowers(name, followers.Len())
	}
	a.rebuildBossList()
}

func (a *Aggregator) handleNewHash(res hashpipeline.Result) {
	entry, ok := a.catalog[res.BossName]
	if !ok {
		return
	}
	entry.meta.ImageHash = res.Hash
	entry.meta.HasHash = true

	var matched []string
	for name, other := range a.catalog {
		if name == res.BossName {
			continue
		}
		if !other.meta.HasHash {
			continue
		}
		if other.meta.Boss.Level != entry.meta.Boss.Level {
			continue
		}
		if other.meta.Boss.Language == entry.meta.Boss.Language {
			continue
		}
		if other.meta.ImageHash != res.Hash {
			continue
		}
		if !containsName(other.meta.Boss.Translations, res.BossName) {
			other.meta.Boss.Translations = append(other.meta.Boss.Translations, res.BossName)
		}
		item, ok := a.adapt(Message{Kind: KindBossUpdate, Boss: &other.meta.Boss})
		a.evictMany(a.global.MaybeSend(item, ok))
		matched = append(matched, name)
	}

	if len(matched) == 0 {
		return
	}
	for _, name := range matched {
		if !containsName(entry.meta.Boss.Translations, name) {
			entry.meta.Boss.Translations = append(entry.meta.Boss.Translations, name)
		}
	}
	item, ok := a.adapt(Message{Kind: KindBossUpdate, Boss: &entry.meta.Boss})
	a.evictMany(a.global.MaybeSend(item, ok))
	a.rebuildBossList()
}

func containsName(names []string, name string) bool {
	for _, n := range names {
		if n == name {
			return true
		}
	}
	return false
}
