package datarecording

var _ DataRecorder = (*sqliteWriter)(nil)
var _ DataRecorder = (*clickHouseWriter)(nil)
var _ DataReader = (*sqliteReader)(nil)
