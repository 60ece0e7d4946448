package types

// Overlay stream (service -> renderer, GET /ws?match=<id>[&tournament=<id>]):
//
// Theme (first, only when the tournament has one):
//   theme: string
//
// Frame:
//   version: number
//   frame:
//     matchId: string
//     teams: TeamFrame[] // ordered by total, kills, tag
//     alert: { kind: "first-blood" | "kill-streak" | "team-eliminated", teamId, playerId, tier, kills } // optional
//
// TeamFrame:
//   rank, placementPoints, kills, total, alive: number
//   teamId, tag, logo, totalText: string // missing tag renders "—"
//   wiped: boolean
//   players: { playerId, name, kills, damage, assists, healthBar, healthPct, out }[]
//   healthBar: "full" | "high" | "mid" | "low" | "knocked" | "out"
//
// Error:
//   error: string
