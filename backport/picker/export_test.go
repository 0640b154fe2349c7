package picker

var Replay = replay
