// Package chat connects the bot to a single Twitch channel.
//
// The Gateway owns the IRC connection (go-twitch-irc), reconnects with
// exponential backoff and publishes typed Events on a channel: chat messages,
// joins and parts, raids, subs, gifted subs, live status changes and
// connection status. Presence tracks who is in the channel and who chatted
// recently; the Poller augments it from Helix with live status, chatters and
// the moderator list. Moderators combines the API list, chat badges and the
// manual lists stored in moderators.json.
package chat
