package rfm69

const (
	RegFifo          = 0x00
	RegOpMode        = 0x01
	RegDataModul     = 0x02
	RegBitrateMsb    = 0x03
	RegFdevMsb       = 0x05
	RegFrfMsb        = 0x07
	RegVersion       = 0x10
	RegPaLevel       = 0x11
	RegOcp           = 0x13
	RegRxBw          = 0x19
	RegAfcBw         = 0x1A
	RegRssiValue     = 0x24
	RegDioMapping1   = 0x25
	RegIrqFlags1     = 0x27
	RegIrqFlags2     = 0x28
	RegPreambleMsb   = 0x2C
	RegSyncConfig    = 0x2E
	RegSyncValue1    = 0x2F
	RegPacketConfig1 = 0x37
	RegPayloadLength = 0x38
	RegNodeAdrs      = 0x39
	RegBroadcastAdrs = 0x3A
	RegFifoThresh    = 0x3C
	RegPacketConfig2 = 0x3D
	RegAesKey1       = 0x3E
	RegTestPa1       = 0x5A
	RegTestPa2       = 0x5C
	RegTestDagc      = 0x6F

	writeBit = 0x80
)

// RegOpMode values
const (
	ModeSleep   byte = 0x00
	ModeStandby byte = 0x04
	ModeTx      byte = 0x0C
	ModeRx      byte = 0x10
)

const (
	irq1ModeReady    = 0x80
	irq2PacketSent   = 0x08
	irq2PayloadReady = 0x04

	dioMapTx = 0x00 // DIO0 = PacketSent
	dioMapRx = 0x40 // DIO0 = PayloadReady

	paLevelPA0 = 0x80
	paLevelPA1 = 0x40
	paLevelPA2 = 0x20

	ocpOn    = 0x1A
	ocpOff   = 0x0F
	testPa1n = 0x55
	testPa1h = 0x5D
	testPa2n = 0x70
	testPa2h = 0x7C

	packetConfig2AutoRestart = 0x02
	packetConfig2Aes         = 0x01

	chipVersion = 0x24
	// FIFO 66 bytes, first is length
	fifoSize = 66

	fxosc = 32000000.0
	fstep = fxosc / (1 << 19)
)

// Register values written at configure time, in order.
// 250kbps FSK, 250kHz deviation, 4 byte preamble, sync 2D D4,
// variable length packets with whitening and CRC.
var baseConfig = [][]byte{
	{RegDataModul, 0x00},
	{RegBitrateMsb, 0x00, 0x80},
	{RegFdevMsb, 0x10, 0x00},
	{RegRxBw, 0xE0},
	{RegAfcBw, 0xE0},
	{RegPreambleMsb, 0x00, 0x04},
	{RegSyncConfig, 0x88},
	{RegSyncValue1, 0x2D, 0xD4},
	{RegPacketConfig1, 0xD0},
	{RegPayloadLength, fifoSize},
	{RegBroadcastAdrs, 0xFF},
	{RegFifoThresh, 0x8F},
	{RegTestDagc, 0x30},
}
