package models

// City is a fixed weather location.
type City struct {
	Name    string  `json:"name"`
	NameKo  string  `json:"nameKo"`
	Country string  `json:"country"`
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
}

// MajorCities returns the tracked weather locations in display order.
func MajorCities() []City {
	return []City{
		{Name: "Seoul", NameKo: "서울", Country: "KR", Lat: 37.5665, Lon: 126.9780},
		{Name: "Busan", NameKo: "부산", Country: "KR", Lat: 35.1796, Lon: 129.0756},
		{Name: "Incheon", NameKo: "인천", Country: "KR", Lat: 37.4563, Lon: 126.7052},
		{Name: "Daegu", NameKo: "대구", Country: "KR", Lat: 35.8714, Lon: 128.6014},
		{Name: "Daejeon", NameKo: "대전", Country: "KR", Lat: 36.3504, Lon: 127.3845},
		{Name: "Gwangju", NameKo: "광주", Country: "KR", Lat: 35.1595, Lon: 126.8526},
		{Name: "Suwon", NameKo: "수원", Country: "KR", Lat: 37.2636, Lon: 127.0286},
		{Name: "Ulsan", NameKo: "울산", Country: "KR", Lat: 35.5384, Lon: 129.3114},
		{Name: "Jeju", NameKo: "제주", Country: "KR", Lat: 33.4996, Lon: 126.5312},
		{Name: "Changwon", NameKo: "창원", Country: "KR", Lat: 35.2280, Lon: 128.6811},
	}
}

// CityNames lists the English names of MajorCities.
func CityNames() []string {
	cities := MajorCities()
	out := make([]string, len(cities))
	for i, c := range cities {
		out[i] = c.Name
	}
	return out
}
