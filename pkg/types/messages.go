package types

// Event stream (backend <-> service), every frame:
//   { "event": string, "data": object }
//
// Backend -> Service
// full-match-update:
//   matchId: string
//   healthFromApi: boolean // optional
//   teams: Team[]
//
// team-field-patch:
//   matchId: string
//   teamId | legacyTeamId: string
//   tag, logo, placementPoints, players: Player[] // each optional
//
// single-player-patch:
//   matchId, teamId | legacyTeamId, playerId: string
//   name, kills, hasDied, liveState, health, healthMax, damage, assists, survivalTime // each optional
//
// team-points-patch:
//   matchId, teamId | legacyTeamId: string
//   placementPoints: number
//
// team-stats-bulk-patch:
//   matchId: string
//   teams: Team[] // each applied like team-field-patch
//
// bulk-player-patch:
//   matchId, teamId | legacyTeamId: string
//   players: Player[]
//
// Player:
//   playerId: string
//   liveState: 0..3 alive tiers | 4 knocked | 5 eliminated
//
// Service -> Backend
// join-match (after every connect):
//   matchId: string
