package alarm

// ChannelCount is the number of alarm channels carried by one status word.
const ChannelCount = 16

// channelNames is indexed by table position; bit i of a word maps to index 15-i.
//
//nolint:gochecknoglobals // Fixed table shared by every station.
var channelNames = [ChannelCount]string{
	"FALLA ALIM COM",
	"GPO ELEC OPER",
	"FALLA FUS DIST",
	"FALLA RECT",
	"ALTA TEMP",
	"FALLA FUS VOLTA",
	"BAT EN OPER",
	"BAJO VOLTAJE",
	"LIBRE 1",
	"LIBRE 2",
	"LIBRE 3",
	"LIBRE 4",
	"LIBRE 5",
	"LIBRE 6",
	"LIBRE 7",
	"LIBRE 8",
}

// Channel describes one entry of the alarm table.
type Channel struct {
	// Index is the position in the alarm table.
	Index int `json:"index"`
	// Bit is the status word bit carrying this channel.
	Bit int `json:"bit"`
	// Name is the human-readable alarm name.
	Name string `json:"name"`
}

// ChannelName returns the alarm name carried by the given bit position.
func ChannelName(bit int) (string, bool) {
	if bit < 0 || bit >= ChannelCount {
		return "", false
	}

	return channelNames[ChannelCount-1-bit], true
}

// Channels returns the alarm table in index order.
func Channels() []Channel {
	result := make([]Channel, 0, ChannelCount)
	for index, name := range channelNames {
		result = append(result, Channel{
			Index: index,
			Bit:   ChannelCount - 1 - index,
			Name:  name,
		})
	}

	return result
}
