package consts

const (
	IMSnapshotKey = "im:snapshot:"
)
