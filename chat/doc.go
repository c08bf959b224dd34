// Package chat turns received chat lines into bot replies.
//
// The Dispatcher owns the single receive loop: it answers keepalives, follows
// server RECONNECT notices, records messages to the chat log and classifies
// each PRIVMSG with the Matcher. Greetings, farewells and commands are routed
// to the Session of the originating channel, which replies only while the
// matching cooldown gate is idle.
//
// Every Session also runs a Reminder that polls the channel's uptime and posts
// a stretch reminder each time the stream crosses another reminder period.
//
// Sessions are kept in a Registry. Viewers register or unregister their own
// channel by typing !join or !leave in the bot's home channel; registrations
// are held in memory only.
package chat
