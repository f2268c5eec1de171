// Package discovery tracks which peers hold which tile tips.
//
// Peers gossip TipAdvert messages over UDP. The Graph keeps, per tile and
// peer, only the newest advert (by sender timestamp, then tip event),
// scores each tip from its signal hints and local recency, and forgets
// peers and tips that stop advertising. Nothing here is durable: a
// restarted node rebuilds its graph from the next round of adverts.
package discovery
